//go:build unix && !rocksdb

package benchmarks

func closeRocks() {}
