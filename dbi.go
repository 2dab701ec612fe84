//go:build unix

package mvkv

import (
	"fmt"
	"log/slog"
)

// dbiRename records a handle rename so an abort can undo it.
type dbiRename struct {
	dbi     DBI
	oldName string
}

// OpenDBI opens the named database, creating it with the Create flag.
// Nil comparators select the defaults implied by flags. The handle stays
// valid for the life of the environment unless closed with CloseDBI or
// created by a transaction that aborts.
func (txn *Txn) OpenDBI(name string, flags uint, cmp, dcmp CmpFunc) (DBI, error) {
	if err := txn.check(false); err != nil {
		return 0, err
	}
	if name == "" {
		return txn.OpenRoot(flags)
	}
	if flags&(IntegerKey|ReverseKey) == IntegerKey|ReverseKey || flags&DupFixed != 0 && flags&DupSort == 0 {
		return 0, NewError(ErrInvalid)
	}
	want := uint16(flags & persistentDBFlags)

	if dbi, ok := txn.env.findDBI(name); ok {
		d, info, err := txn.db(dbi)
		if err == nil {
			if flags&persistentDBFlags != 0 && d.tree.flags != want {
				return 0, NewError(ErrIncompatible)
			}
			if cmp != nil || dcmp != nil {
				txn.env.dbisMu.Lock()
				if cmp != nil {
					info.cmp = cmp
				}
				if dcmp != nil {
					info.dcmp = dcmp
				}
				txn.env.dbisMu.Unlock()
			}
			return dbi, nil
		}
		if !IsNotFound(err) && Code(err) != ErrBadDBI {
			return 0, err
		}
	}

	tr, err := txn.lookupDB(name)
	created := false
	switch {
	case err == nil:
		if flags&persistentDBFlags != 0 && tr.flags != want {
			return 0, NewError(ErrIncompatible)
		}
	case !IsNotFound(err):
		return 0, err
	case flags&Create == 0:
		return 0, err
	case txn.IsReadOnly():
		return 0, NewError(ErrPermissionDenied)
	default:
		if err := txn.check(true); err != nil {
			return 0, err
		}
		tr = emptyTree(want)
		created = true
	}

	dbFlags := uint(tr.flags)
	info := &dbiInfo{name: name, flags: dbFlags, cmp: cmp, dcmp: dcmp}
	if info.cmp == nil {
		info.cmp = keyComparator(dbFlags)
	}
	if info.dcmp == nil {
		info.dcmp = dupComparator(dbFlags)
	}
	dbi, err := txn.env.addDBI(info)
	if err != nil {
		return 0, err
	}

	for int(dbi) >= len(txn.dbs) {
		txn.dbs = append(txn.dbs, nil)
	}
	d := &txnDB{tree: tr, name: name}
	if created {
		d.state = dbDirty | dbCreated
		d.tree.modTxnid = txn.id
		txn.createdDBIs = append(txn.createdDBIs, dbi)
		txn.env.debug("database created", slog.String("name", name), slog.Uint64("dbi", uint64(dbi)))
	}
	txn.dbs[dbi] = d
	return dbi, nil
}

// OpenDBISimple opens a named database with the default comparators.
func (txn *Txn) OpenDBISimple(name string, flags uint) (DBI, error) {
	return txn.OpenDBI(name, flags, nil, nil)
}

// OpenRoot returns the handle of the main database.
func (txn *Txn) OpenRoot(flags uint) (DBI, error) {
	if err := txn.check(false); err != nil {
		return 0, err
	}
	if flags&persistentDBFlags != 0 && uint(txn.dbs[MainDBI].tree.flags) != flags&persistentDBFlags {
		return 0, NewError(ErrIncompatible)
	}
	return MainDBI, nil
}

// findDBI returns the open handle of the named database.
func (e *Env) findDBI(name string) (DBI, bool) {
	e.dbisMu.RLock()
	defer e.dbisMu.RUnlock()
	for i := CoreDBs; i < len(e.dbis); i++ {
		if info := e.dbis[i]; info != nil && info.name == name && !info.dropped {
			return DBI(i), true
		}
	}
	return 0, false
}

// addDBI registers a handle in the first free slot.
func (e *Env) addDBI(info *dbiInfo) (DBI, error) {
	e.dbisMu.Lock()
	defer e.dbisMu.Unlock()
	named, free := 0, -1
	for i := CoreDBs; i < len(e.dbis); i++ {
		switch {
		case e.dbis[i] == nil:
			if free < 0 {
				free = i
			}
		case e.dbis[i].name == info.name && !e.dbis[i].dropped:
			// Opened concurrently by another transaction.
			return DBI(i), nil
		default:
			named++
		}
	}
	if named >= int(e.maxDBs) || len(e.dbis) >= MaxDBI {
		return 0, WrapError(ErrDBsFull, fmt.Errorf("%d named databases open", named))
	}
	if free < 0 {
		e.dbis = append(e.dbis, info)
		return DBI(len(e.dbis) - 1), nil
	}
	e.dbis[free] = info
	return DBI(free), nil
}

// Drop empties a database, or with del removes it and closes its handle
// once the transaction commits. Emptying a primary also empties its
// secondary indexes.
func (txn *Txn) Drop(dbi DBI, del bool) error {
	if err := txn.check(true); err != nil {
		return err
	}
	if dbi < CoreDBs {
		return NewError(ErrInvalid)
	}
	d, info, err := txn.db(dbi)
	if err != nil {
		return err
	}
	if info.isSecondary && !del {
		return NewError(ErrInvalid)
	}
	return txn.fail(txn.drop(dbi, d, info, del))
}

func (txn *Txn) drop(dbi DBI, d *txnDB, info *dbiInfo, del bool) error {
	for _, s := range info.secondaries {
		sd, sinfo, err := txn.db(s)
		if err != nil {
			return err
		}
		if err := txn.drop(s, sd, sinfo, false); err != nil {
			return err
		}
	}

	if err := txn.freeTree(&d.tree); err != nil {
		return err
	}
	seq := d.tree.sequence
	d.tree = emptyTree(d.tree.flags)
	d.tree.sequence = seq
	d.tree.modTxnid = txn.id
	d.state |= dbDirty
	txn.gen++

	if !del {
		return nil
	}
	c, err := txn.newCursor(MainDBI)
	if err != nil {
		return err
	}
	if _, _, err := c.get([]byte(d.name), nil, Set); err == nil {
		if err := c.del(subDBRecord); err != nil {
			return err
		}
	} else if !IsNotFound(err) {
		return err
	}
	d.state |= dbDeleted
	txn.env.dbisMu.Lock()
	info.dropped = true
	txn.env.dbisMu.Unlock()
	txn.droppedDBIs = append(txn.droppedDBIs, dbi)
	txn.env.debug("database dropped", slog.String("name", d.name), slog.Uint64("txnid", uint64(txn.id)))
	return nil
}

// Stat holds statistics of one database.
type Stat struct {
	PageSize      uint32
	Depth         uint32
	BranchPages   uint64
	LeafPages     uint64
	LargePages    uint64
	OverflowPages uint64 // same as LargePages
	Entries       uint64
	Root          uint32
	ModTxnID      uint64
	Sequence      uint64
}

// Stat returns statistics of dbi as seen by the transaction.
func (txn *Txn) Stat(dbi DBI) (*Stat, error) {
	if err := txn.check(false); err != nil {
		return nil, err
	}
	d, _, err := txn.db(dbi)
	if err != nil {
		return nil, err
	}
	t := &d.tree
	return &Stat{
		PageSize:      txn.pageSize,
		Depth:         uint32(t.height),
		BranchPages:   uint64(t.branchPages),
		LeafPages:     uint64(t.leafPages),
		LargePages:    uint64(t.largePages),
		OverflowPages: uint64(t.largePages),
		Entries:       t.items,
		Root:          uint32(t.root),
		ModTxnID:      uint64(t.modTxnid),
		Sequence:      t.sequence,
	}, nil
}

// Flags returns the persistent flags of dbi.
func (txn *Txn) Flags(dbi DBI) (uint, error) {
	if err := txn.check(false); err != nil {
		return 0, err
	}
	d, _, err := txn.db(dbi)
	if err != nil {
		return 0, err
	}
	return uint(d.tree.flags), nil
}

// Sequence returns the persistent counter of dbi and adds increment to
// it. A read-only transaction may only pass zero.
func (txn *Txn) Sequence(dbi DBI, increment uint64) (uint64, error) {
	if err := txn.check(increment > 0); err != nil {
		return 0, err
	}
	if dbi == FreeDBI && increment > 0 {
		return 0, NewError(ErrPermissionDenied)
	}
	d, _, err := txn.db(dbi)
	if err != nil {
		return 0, err
	}
	cur := d.tree.sequence
	if increment > 0 {
		if cur+increment < cur {
			return 0, WrapError(ErrProblem, fmt.Errorf("sequence overflow"))
		}
		d.tree.sequence += increment
		d.state |= dbDirty
	}
	return cur, nil
}

// RenameDBI gives a named database a new name. The handle stays valid.
func (txn *Txn) RenameDBI(dbi DBI, name string) error {
	if err := txn.check(true); err != nil {
		return err
	}
	if dbi < CoreDBs || name == "" {
		return NewError(ErrInvalid)
	}
	d, info, err := txn.db(dbi)
	if err != nil {
		return err
	}
	if d.name == name {
		return nil
	}
	if _, ok := txn.env.findDBI(name); ok {
		return ErrKeyExistError
	}
	if _, err := txn.lookupDB(name); err == nil || Code(err) == ErrIncompatible {
		return ErrKeyExistError
	} else if !IsNotFound(err) {
		return err
	}

	c, err := txn.newCursor(MainDBI)
	if err != nil {
		return err
	}
	if _, _, err := c.get([]byte(d.name), nil, Set); err == nil {
		if err := c.del(subDBRecord); err != nil {
			return txn.fail(err)
		}
	} else if !IsNotFound(err) {
		return err
	}

	txn.renames = append(txn.renames, dbiRename{dbi: dbi, oldName: d.name})
	d.name = name
	d.state |= dbDirty
	txn.env.dbisMu.Lock()
	info.name = name
	txn.env.dbisMu.Unlock()
	return nil
}

// undoRenames restores handle names changed by an aborted transaction.
func (txn *Txn) undoRenames() {
	e := txn.env
	e.dbisMu.Lock()
	defer e.dbisMu.Unlock()
	for i := len(txn.renames) - 1; i >= 0; i-- {
		r := txn.renames[i]
		if int(r.dbi) < len(e.dbis) && e.dbis[r.dbi] != nil {
			e.dbis[r.dbi].name = r.oldName
		}
	}
	txn.renames = nil
}

// undoDrops makes the handles deleted by an aborted transaction usable
// again.
func (txn *Txn) undoDrops() {
	e := txn.env
	e.dbisMu.Lock()
	defer e.dbisMu.Unlock()
	for _, dbi := range txn.droppedDBIs {
		if int(dbi) < len(e.dbis) && e.dbis[dbi] != nil {
			e.dbis[dbi].dropped = false
		}
	}
	txn.droppedDBIs = nil
}

// closeDropped closes the handles of databases deleted by a committed
// transaction.
func (txn *Txn) closeDropped() {
	e := txn.env
	e.dbisMu.Lock()
	defer e.dbisMu.Unlock()
	for _, dbi := range txn.droppedDBIs {
		e.closeDBILocked(dbi)
	}
	txn.droppedDBIs = nil
}

// ListDBI returns the names of all named databases in key order.
func (txn *Txn) ListDBI() ([]string, error) {
	if err := txn.check(false); err != nil {
		return nil, err
	}
	c, err := txn.newCursor(MainDBI)
	if err != nil {
		return nil, err
	}
	var names []string
	k, _, err := c.get(nil, nil, First)
	for ; err == nil; k, _, err = c.get(nil, nil, NextNoDup) {
		if c.node().isSubDB() {
			names = append(names, string(k))
		}
	}
	if !IsNotFound(err) {
		return nil, err
	}
	return names, nil
}
