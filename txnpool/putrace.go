//go:build race

package txnpool

const returnTxnToPool = false
