package state

var (
	tokenMetadataKeyBytes = []byte("token/meta")
	tokenBalancePrefix    = []byte("token/balance/")
	tokenAllowancePrefix  = []byte("token/allowance/")
	stakingPoolKeyBytes   = []byte("staking/pool")
	stakingAccountPrefix  = []byte("staking/account/")
	quorumPrefix          = []byte("quorum/")
	accountNoncePrefix    = []byte("account/nonce/")
	deploymentKeyBytes    = []byte("genesis/deployment")
)

func join(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

// TokenMetadataKey stores the ledger's name, symbol, supply and roles.
func TokenMetadataKey() []byte { return append([]byte(nil), tokenMetadataKeyBytes...) }

// TokenBalanceKey stores the balance of addr.
func TokenBalanceKey(addr []byte) []byte { return join(tokenBalancePrefix, addr) }

// TokenAllowanceKey stores the amount spender may move out of owner's balance.
func TokenAllowanceKey(owner, spender []byte) []byte {
	return join(tokenAllowancePrefix, owner, []byte("/"), spender)
}

// StakingPoolKey stores the pool's global record.
func StakingPoolKey() []byte { return append([]byte(nil), stakingPoolKeyBytes...) }

// StakingAccountKey stores the per-depositor stake record.
func StakingAccountKey(addr []byte) []byte { return join(stakingAccountPrefix, addr) }

// QuorumKey stores the manager set and pending proposal of a quorum topic.
func QuorumKey(topic string) []byte { return join(quorumPrefix, []byte(topic)) }

// AccountNonceKey stores the next expected transaction nonce of addr.
func AccountNonceKey(addr []byte) []byte { return join(accountNoncePrefix, addr) }

// DeploymentKey stores the addresses assigned at genesis.
func DeploymentKey() []byte { return append([]byte(nil), deploymentKeyBytes...) }
