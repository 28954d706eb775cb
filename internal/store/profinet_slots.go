package store

import "github.com/ironfield/rtuhub/internal/rtuerr"

// ProfinetSlotRow is the persisted cache of a plugged (slot, subslot)
// entry, kept for restart diagnostics (health snapshots can show what
// was plugged on last run before the bridge re-plugs everything).
type ProfinetSlotRow struct {
	Slot           int
	Subslot        int
	ModuleIdent    uint32
	SubmoduleIdent uint32
	InputSize      int
	OutputSize     int
	Plugged        bool
}

// UpsertProfinetSlot records or updates a plugged-module entry.
func (s *Store) UpsertProfinetSlot(row ProfinetSlotRow) error {
	_, err := s.conn.Exec(`
		INSERT INTO profinet_slots (slot, subslot, module_ident, submodule_ident, input_size, output_size, plugged)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slot, subslot) DO UPDATE SET
			module_ident=excluded.module_ident, submodule_ident=excluded.submodule_ident,
			input_size=excluded.input_size, output_size=excluded.output_size, plugged=excluded.plugged
	`, row.Slot, row.Subslot, row.ModuleIdent, row.SubmoduleIdent, row.InputSize, row.OutputSize, boolToInt(row.Plugged))
	if err != nil {
		return rtuerr.Wrap(err, rtuerr.IoError, "store", "UpsertProfinetSlot", "upsert profinet slot")
	}
	return nil
}

// ListProfinetSlots returns every cached slot entry.
func (s *Store) ListProfinetSlots() ([]ProfinetSlotRow, error) {
	rows, err := s.conn.Query(`SELECT slot, subslot, module_ident, submodule_ident, input_size, output_size, plugged FROM profinet_slots ORDER BY slot, subslot`)
	if err != nil {
		return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "ListProfinetSlots", "query profinet slots")
	}
	defer rows.Close()

	var out []ProfinetSlotRow
	for rows.Next() {
		var row ProfinetSlotRow
		var plugged int
		if err := rows.Scan(&row.Slot, &row.Subslot, &row.ModuleIdent, &row.SubmoduleIdent, &row.InputSize, &row.OutputSize, &plugged); err != nil {
			return nil, rtuerr.Wrap(err, rtuerr.IoError, "store", "ListProfinetSlots", "scan profinet slot")
		}
		row.Plugged = intToBool(plugged)
		out = append(out, row)
	}
	return out, rows.Err()
}
