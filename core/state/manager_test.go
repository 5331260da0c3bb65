package state

import "testing"

func TestKeyNamespaces(t *testing.T) {
	if string(TokenMetadataKey()) != "token/meta" {
		t.Fatalf("unexpected metadata key: %s", TokenMetadataKey())
	}
	if string(TokenBalanceKey([]byte("a"))) != "token/balance/a" {
		t.Fatalf("unexpected balance key: %s", TokenBalanceKey([]byte("a")))
	}
	if string(TokenAllowanceKey([]byte("o"), []byte("s"))) != "token/allowance/o/s" {
		t.Fatalf("unexpected allowance key")
	}
	if string(QuorumKey("staking/rewardPerBlock")) != "quorum/staking/rewardPerBlock" {
		t.Fatalf("unexpected quorum key: %s", QuorumKey("staking/rewardPerBlock"))
	}
	if string(StakingAccountKey([]byte("x"))) != "staking/account/x" {
		t.Fatalf("unexpected staking key")
	}
	// Returned keys must not alias the package prefixes.
	key := TokenMetadataKey()
	key[0] = 'X'
	if string(TokenMetadataKey()) != "token/meta" {
		t.Fatalf("metadata key prefix was mutated")
	}
}
