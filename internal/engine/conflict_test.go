package engine

import (
	"encoding/json"
	"testing"
)

func TestParseConflictResolution(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    string
		expectError bool
	}{
		{name: "server wins", input: "server-wins", expected: "server-wins"},
		{name: "client wins", input: "client-wins", expected: "client-wins"},
		{name: "manual", input: "manual", expected: "manual"},
		{name: "empty defaults to server wins", input: "", expected: "server-wins"},
		{name: "unknown rejected", input: "last-write-wins", expectError: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			policy, err := ParseConflictResolution(tc.input)
			if tc.expectError {
				if err == nil {
					t.Fatalf("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if policy.Mode() != tc.expected {
				t.Fatalf("expected mode %q, got %q", tc.expected, policy.Mode())
			}
		})
	}
}

func TestResolveWithoutPendingMutationIsNotAConflict(t *testing.T) {
	local := json.RawMessage(`{"name":"local"}`)
	server := json.RawMessage(`{"name":"server"}`)

	for _, policy := range []ConflictResolution{ServerWins(), ClientWins(), Manual(nil)} {
		winner := policy.resolve(local, server, false)
		if string(winner) != string(server) {
			t.Fatalf("policy %q must take the server copy without a pending mutation, got %s",
				policy.Mode(), winner)
		}
	}
}

func TestResolveWithNilLocalTakesServerCopy(t *testing.T) {
	server := json.RawMessage(`{"name":"server"}`)

	winner := ClientWins().resolve(nil, server, true)
	if string(winner) != string(server) {
		t.Fatalf("expected server copy when no local exists, got %s", winner)
	}
}

func TestManualResolverReceivesBothCopies(t *testing.T) {
	local := json.RawMessage(`{"name":"local"}`)
	server := json.RawMessage(`{"name":"server"}`)

	var seenLocal, seenServer string
	policy := Manual(func(localCopy, serverCopy json.RawMessage) json.RawMessage {
		seenLocal = string(localCopy)
		seenServer = string(serverCopy)
		return localCopy
	})

	winner := policy.resolve(local, server, true)
	if string(winner) != string(local) {
		t.Fatalf("expected resolver result, got %s", winner)
	}
	if seenLocal != string(local) || seenServer != string(server) {
		t.Fatalf("resolver received wrong copies: local=%s server=%s", seenLocal, seenServer)
	}
}
