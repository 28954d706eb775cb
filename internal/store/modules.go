package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/ironfield/rtuhub/internal/rtuerr"
)

// Module is the identity row for a pluggable logical unit.
type Module struct {
	ID             int64
	Slot           int
	Subslot        int
	Name           string
	ModuleType     string
	ModuleIdent    uint32
	SubmoduleIdent uint32
	Status         string
	Enabled        bool
}

// UpsertModule inserts a module or replaces it by slot, giving
// idempotent INSERT OR REPLACE semantics.
func (s *Store) UpsertModule(m Module) (int64, error) {
	res, err := s.conn.Exec(`
		INSERT INTO modules (slot, subslot, name, module_type, module_ident, submodule_ident, status, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			subslot=excluded.subslot, name=excluded.name, module_type=excluded.module_type,
			module_ident=excluded.module_ident, submodule_ident=excluded.submodule_ident,
			status=excluded.status, enabled=excluded.enabled
	`, m.Slot, m.Subslot, m.Name, m.ModuleType, m.ModuleIdent, m.SubmoduleIdent, m.Status, boolToInt(m.Enabled))
	if err != nil {
		return 0, rtuerr.Wrap(err, rtuerr.IoError, "store", "UpsertModule", "upsert module")
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	var id int64
	if err := s.conn.QueryRow(`SELECT id FROM modules WHERE slot=?`, m.Slot).Scan(&id); err != nil {
		return 0, rtuerr.Wrap(err, rtuerr.IoError, "store", "UpsertModule", "resolve module id")
	}
	return id, nil
}

// DeleteModule removes a module, cascading to its sensor config,
// status, rules; actuators are unaffected, since actuators are
// independent of modules.
func (s *Store) DeleteModule(id int64) error {
	_, err := s.conn.Exec(`DELETE FROM modules WHERE id=?`, id)
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "store", "DeleteModule", "delete module")
	}
	return nil
}

// ListModules returns every module, enabled or not; callers filter as
// needed (the sensor manager's reload skips disabled modules itself).
func (s *Store) ListModules() ([]Module, error) {
	rows, err := s.conn.Query(`SELECT id, slot, subslot, name, module_type, module_ident, submodule_ident, status, enabled FROM modules ORDER BY slot`)
	if err != nil {
		return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "ListModules", "query modules")
	}
	defer rows.Close()

	var out []Module
	for rows.Next() {
		var m Module
		var enabled int
		if err := rows.Scan(&m.ID, &m.Slot, &m.Subslot, &m.Name, &m.ModuleType, &m.ModuleIdent, &m.SubmoduleIdent, &m.Status, &enabled); err != nil {
			return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "ListModules", "scan module")
		}
		m.Enabled = enabled != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetModule fetches a single module by id.
func (s *Store) GetModule(id int64) (Module, error) {
	var m Module
	var enabled int
	err := s.conn.QueryRow(`SELECT id, slot, subslot, name, module_type, module_ident, submodule_ident, status, enabled FROM modules WHERE id=?`, id).
		Scan(&m.ID, &m.Slot, &m.Subslot, &m.Name, &m.ModuleType, &m.ModuleIdent, &m.SubmoduleIdent, &m.Status, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return Module{}, rtuerr.New(rtuerr.NotFound, "store", "GetModule", "module not found")
	}
	if err != nil {
		return Module{}, rtuerr.Wrap(err, rtuerr.IoError, "store", "GetModule", "query module")
	}
	m.Enabled = enabled != 0
	return m, nil
}

// SetModuleStatus updates the freeform status string shown by health
// snapshots.
func (s *Store) SetModuleStatus(id int64, status string) error {
	_, err := s.conn.Exec(`UPDATE modules SET status=? WHERE id=?`, status, id)
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "store", "SetModuleStatus", "update status")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool { return i != 0 }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
