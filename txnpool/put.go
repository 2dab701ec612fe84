//go:build !race

package txnpool

// returnTxnToPool is false under the race detector, where sync.Pool drops
// every Put and pooled transactions would only hold reader slots.
const returnTxnToPool = true
