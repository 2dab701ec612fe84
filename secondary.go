//go:build unix

package mvkv

import (
	"bytes"
	"log/slog"
)

// KeyCreator derives the secondary key of a primary item. It must be
// deterministic; ok=false leaves the item out of the index.
type KeyCreator func(key, val []byte) (skey []byte, ok bool)

// OpenSecondary opens or creates a DupSort database name that indexes
// primary through kc. The association lasts until either handle is
// closed. With Populate a newly created index is filled from primary.
func (txn *Txn) OpenSecondary(primary DBI, name string, flags uint, kc KeyCreator) (DBI, error) {
	if kc == nil || name == "" {
		return 0, NewError(ErrInvalid)
	}
	pinfo := txn.env.dbiInfo(primary)
	if pinfo == nil {
		return 0, NewError(ErrBadDBI)
	}
	if pinfo.isSecondary || primary < CoreDBs {
		return 0, NewError(ErrIncompatible)
	}
	sdbi, err := txn.OpenDBI(name, flags&^Populate|DupSort, nil, nil)
	if err != nil {
		return 0, err
	}
	if sdbi == primary {
		return 0, NewError(ErrIncompatible)
	}

	e := txn.env
	e.dbisMu.Lock()
	sinfo := e.dbis[sdbi]
	sinfo.isSecondary = true
	sinfo.primary = primary
	sinfo.keyCreator = kc
	pinfo = e.dbis[primary]
	if pinfo != nil && !containsDBI(pinfo.secondaries, sdbi) {
		pinfo.secondaries = append(pinfo.secondaries, sdbi)
	}
	e.dbisMu.Unlock()

	if flags&Populate != 0 {
		if err := txn.populate(primary, sdbi, kc); err != nil {
			return 0, err
		}
	}
	return sdbi, nil
}

func containsDBI(list []DBI, db DBI) bool {
	for _, d := range list {
		if d == db {
			return true
		}
	}
	return false
}

// populate indexes every item of primary into an empty secondary.
func (txn *Txn) populate(primary, sdbi DBI, kc KeyCreator) error {
	sd, _, err := txn.db(sdbi)
	if err != nil {
		return err
	}
	if !sd.tree.isEmpty() {
		return nil
	}
	pc, err := txn.newCursor(primary)
	if err != nil {
		return err
	}
	defer pc.Close()
	sc, err := txn.newCursor(sdbi)
	if err != nil {
		return err
	}
	defer sc.Close()

	count := 0
	k, v, err := pc.get(nil, nil, First)
	for ; err == nil; k, v, err = pc.get(nil, nil, Next) {
		skey, ok := kc(k, v)
		if !ok {
			continue
		}
		if _, err := sc.put(skey, k, NoDupData); err != nil && !IsKeyExist(err) {
			return txn.fail(err)
		}
		count++
	}
	if !IsNotFound(err) {
		return err
	}
	txn.env.debug("secondary populated", slog.Uint64("dbi", uint64(sdbi)), slog.Int("entries", count))
	return nil
}

// putIndexed writes through the cursor and mirrors the change into every
// secondary of its database.
func (c *Cursor) putIndexed(key, val []byte, flags uint) ([]byte, error) {
	if c.info.isSecondary {
		return nil, NewError(ErrInvalid)
	}
	if len(c.info.secondaries) == 0 {
		return c.put(key, val, flags)
	}
	if flags&Reserve != 0 {
		return nil, NewError(ErrIncompatible)
	}
	if flags&Current != 0 {
		if c.state != cursorPointing || c.afterDelete {
			return nil, ErrNotFoundError
		}
	}
	key = bytes.Clone(key)
	before, err := c.txn.derivedKeys(c.dbi, c.info, key)
	if err != nil {
		return nil, err
	}
	old, err := c.put(key, val, flags)
	if err != nil {
		return old, err
	}
	after, err := c.txn.derivedKeys(c.dbi, c.info, key)
	if err != nil {
		return nil, err
	}
	return old, c.txn.syncSecondaries(key, before, after)
}

// delIndexed deletes through the cursor and removes the derived entries
// that no remaining value of the key produces.
func (c *Cursor) delIndexed(flags uint) error {
	if c.info.isSecondary {
		return NewError(ErrInvalid)
	}
	if len(c.info.secondaries) == 0 {
		return c.del(flags)
	}
	if err := c.resync(); err != nil {
		return err
	}
	if c.state != cursorPointing {
		return ErrNotFoundError
	}
	key := bytes.Clone(c.node().key())
	before, err := c.txn.derivedKeys(c.dbi, c.info, key)
	if err != nil {
		return err
	}
	if err := c.del(flags); err != nil {
		return err
	}
	after, err := c.txn.derivedKeys(c.dbi, c.info, key)
	if err != nil {
		return err
	}
	return c.txn.syncSecondaries(key, before, after)
}

// derivedKeys returns, per secondary of dbi, the set of secondary keys the
// current values of key produce.
func (txn *Txn) derivedKeys(dbi DBI, info *dbiInfo, key []byte) (map[DBI]map[string]struct{}, error) {
	out := make(map[DBI]map[string]struct{}, len(info.secondaries))
	var vals [][]byte
	c, err := txn.newCursor(dbi)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	_, v, err := c.get(key, nil, Set)
	for ; err == nil; _, v, err = c.get(nil, nil, NextDup) {
		vals = append(vals, bytes.Clone(v))
		if !c.dupsort {
			break
		}
	}
	if err != nil && !IsNotFound(err) {
		return nil, err
	}

	for _, s := range info.secondaries {
		sinfo := txn.env.dbiInfo(s)
		if sinfo == nil || sinfo.keyCreator == nil {
			continue
		}
		set := make(map[string]struct{})
		for _, v := range vals {
			if skey, ok := sinfo.keyCreator(key, v); ok {
				set[string(skey)] = struct{}{}
			}
		}
		out[s] = set
	}
	return out, nil
}

// syncSecondaries applies the difference between two derivedKeys results
// for primary key pkey.
func (txn *Txn) syncSecondaries(pkey []byte, before, after map[DBI]map[string]struct{}) error {
	for s, old := range before {
		cur := after[s]
		sc, err := txn.newCursor(s)
		if err != nil {
			return err
		}
		for skey := range old {
			if _, ok := cur[skey]; ok {
				continue
			}
			if _, _, err := sc.get([]byte(skey), pkey, GetBoth); err != nil {
				if IsNotFound(err) {
					continue
				}
				return err
			}
			if err := sc.del(0); err != nil {
				return err
			}
		}
		for skey := range cur {
			if _, ok := old[skey]; ok {
				continue
			}
			if _, err := sc.put([]byte(skey), pkey, NoDupData); err != nil && !IsKeyExist(err) {
				return err
			}
		}
	}
	return nil
}

// GetSecondary looks up skey in a secondary index and returns the first
// primary key filed under it together with its primary value.
func (txn *Txn) GetSecondary(sdbi DBI, skey []byte) ([]byte, []byte, error) {
	if err := txn.check(false); err != nil {
		return nil, nil, err
	}
	sinfo, err := txn.secondaryInfo(sdbi)
	if err != nil {
		return nil, nil, err
	}
	pkey, err := txn.Get(sdbi, skey)
	if err != nil {
		return nil, nil, err
	}
	val, err := txn.Get(sinfo.primary, pkey)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil, WrapError(ErrCorrupted, err)
		}
		return nil, nil, err
	}
	return pkey, val, nil
}

// GetSecondaryBoth returns the primary value of pkey if it is filed under
// skey in the secondary index.
func (txn *Txn) GetSecondaryBoth(sdbi DBI, skey, pkey []byte) ([]byte, error) {
	if err := txn.check(false); err != nil {
		return nil, err
	}
	sinfo, err := txn.secondaryInfo(sdbi)
	if err != nil {
		return nil, err
	}
	c, err := txn.newCursor(sdbi)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	if _, _, err := c.get(skey, pkey, GetBoth); err != nil {
		return nil, err
	}
	return txn.Get(sinfo.primary, pkey)
}

func (txn *Txn) secondaryInfo(sdbi DBI) (*dbiInfo, error) {
	sinfo := txn.env.dbiInfo(sdbi)
	if sinfo == nil {
		return nil, NewError(ErrBadDBI)
	}
	if !sinfo.isSecondary {
		return nil, NewError(ErrIncompatible)
	}
	return sinfo, nil
}

// SecondaryCursor walks a secondary index and resolves every entry to its
// primary item.
type SecondaryCursor struct {
	*Cursor
	primary DBI
}

// OpenSecondaryCursor opens a cursor on a secondary index.
func (txn *Txn) OpenSecondaryCursor(sdbi DBI) (*SecondaryCursor, error) {
	sinfo, err := txn.secondaryInfo(sdbi)
	if err != nil {
		return nil, err
	}
	c, err := txn.OpenCursor(sdbi)
	if err != nil {
		return nil, err
	}
	return &SecondaryCursor{Cursor: c, primary: sinfo.primary}, nil
}

// Get positions the cursor like Cursor.Get, with pkey taking the place of
// the value for GetBoth and GetBothRange, and returns the secondary key,
// the primary key and the primary value.
func (sc *SecondaryCursor) Get(skey, pkey []byte, op CursorOp) ([]byte, []byte, []byte, error) {
	if op == GetMultiple || op == NextMultiple {
		return nil, nil, nil, NewError(ErrIncompatible)
	}
	k, pk, err := sc.Cursor.Get(skey, pkey, op)
	if err != nil {
		return nil, nil, nil, err
	}
	val, err := sc.txn.Get(sc.primary, pk)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil, nil, WrapError(ErrCorrupted, err)
		}
		return nil, nil, nil, err
	}
	return k, pk, val, nil
}

// Put always fails: secondary indexes change only through their primary.
func (sc *SecondaryCursor) Put(key, val []byte, flags uint) error {
	return NewError(ErrInvalid)
}

// Del always fails: secondary indexes change only through their primary.
func (sc *SecondaryCursor) Del(flags uint) error {
	return NewError(ErrInvalid)
}
