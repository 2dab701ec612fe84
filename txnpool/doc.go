/*
Package txnpool provides a TxnPool that lets read-only transactions be reused
through Reset and Renew once the goroutine that began them is done with them.

Pooling read-only transactions naively keeps old snapshots pinned, which
stops the writer from reclaiming pages and makes the data file grow. TxnPool
tracks the id of the last committed update and refuses to hand out a
transaction that predates it without renewing it first.

An application that reads at a high rate may hold more reader slots than it
has reading goroutines, so it may need to raise the reader limit before the
environment is opened.

	err := env.SetMaxReaders(maxReaders)
*/
package txnpool
