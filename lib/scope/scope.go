// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package scope

import (
	"fmt"
	"sort"
)

// Scope names one capability a consent token can grant. The set is
// closed: Parse rejects anything outside the constants below, and all
// matching elsewhere in the module is exact string equality. There is
// no hierarchy and no wildcard form.
type Scope string

// Vault read scopes, one per data category. These are also the
// canonical scopes under which vault records are keyed.
const (
	ReadEmail    Scope = "vault.read.email"
	ReadPhone    Scope = "vault.read.phone"
	ReadFinance  Scope = "vault.read.finance"
	ReadContacts Scope = "vault.read.contacts"
	ReadCalendar Scope = "vault.read.calendar"
)

// Vault write scopes. Writing a category requires the category's write
// scope; the pairing lives in the mapping table below, never in
// string manipulation.
const (
	WriteEmail    Scope = "vault.write.email"
	WritePhone    Scope = "vault.write.phone"
	WriteFinance  Scope = "vault.write.finance"
	WriteContacts Scope = "vault.write.contacts"
	WriteCalendar Scope = "vault.write.calendar"
)

// Agent action scopes. These authorize agent operations outside the
// vault and never gate stored records.
const (
	AgentShoppingPurchase Scope = "agent.shopping.purchase"
	AgentFinanceAnalyze   Scope = "agent.finance.analyze"
	AgentIdentityVerify   Scope = "agent.identity.verify"
	AgentSalesOptimize    Scope = "agent.sales.optimize"
)

// Session scopes: a general-purpose category for data that fits no
// named vault category. SessionRead also gates the vault's list and
// export operations.
const (
	SessionRead  Scope = "custom.temporary"
	SessionWrite Scope = "custom.session.write"
)

// readToWrite maps each storable category's canonical read scope to
// the write scope that authorizes storing it. The table is the single
// authority for read/write pairing; deriving one scope from another by
// prefix or substring is forbidden everywhere in this module.
var readToWrite = map[Scope]Scope{
	ReadEmail:    WriteEmail,
	ReadPhone:    WritePhone,
	ReadFinance:  WriteFinance,
	ReadContacts: WriteContacts,
	ReadCalendar: WriteCalendar,
	SessionRead:  SessionWrite,
}

// writeToRead is the exact inverse of readToWrite, spelled out rather
// than derived so a reviewer can check both directions at a glance.
var writeToRead = map[Scope]Scope{
	WriteEmail:    ReadEmail,
	WritePhone:    ReadPhone,
	WriteFinance:  ReadFinance,
	WriteContacts: ReadContacts,
	WriteCalendar: ReadCalendar,
	SessionWrite:  SessionRead,
}

var agentScopes = map[Scope]bool{
	AgentShoppingPurchase: true,
	AgentFinanceAnalyze:   true,
	AgentIdentityVerify:   true,
	AgentSalesOptimize:    true,
}

// Parse converts external input into a Scope. Unknown values are
// rejected; Parse is the only constructor from untrusted strings.
func Parse(s string) (Scope, error) {
	sc := Scope(s)
	if !sc.Valid() {
		return "", fmt.Errorf("scope: unknown consent scope %q", s)
	}
	return sc, nil
}

// Valid reports whether the scope is a member of the closed set.
func (s Scope) Valid() bool {
	if _, ok := readToWrite[s]; ok {
		return true
	}
	if _, ok := writeToRead[s]; ok {
		return true
	}
	return agentScopes[s]
}

func (s Scope) String() string { return string(s) }

// Storable reports whether s is the canonical read scope of a vault
// category, i.e. a scope a vault key may carry.
func Storable(s Scope) bool {
	_, ok := readToWrite[s]
	return ok
}

// ReadToWrite returns the write scope paired with a category's read
// scope. ok is false for anything that is not a storable category
// scope.
func ReadToWrite(s Scope) (Scope, bool) {
	w, ok := readToWrite[s]
	return w, ok
}

// WriteToRead returns the read scope paired with a category's write
// scope. ok is false for anything that is not a write scope.
func WriteToRead(s Scope) (Scope, bool) {
	r, ok := writeToRead[s]
	return r, ok
}

// All returns every scope in the closed set, sorted.
func All() []Scope {
	scopes := make([]Scope, 0, len(readToWrite)+len(writeToRead)+len(agentScopes))
	for s := range readToWrite {
		scopes = append(scopes, s)
	}
	for s := range writeToRead {
		scopes = append(scopes, s)
	}
	for s := range agentScopes {
		scopes = append(scopes, s)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i] < scopes[j] })
	return scopes
}
