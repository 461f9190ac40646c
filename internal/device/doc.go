// Package device holds the device catalogs and the connectivity history of
// the two monitored fleets, GRDs and protection relays.
//
// # Storage
//
//	grd                  (id, description)
//	reles                (id, id_modbus, description)
//	connectivity_history (device_class, device_id, timestamp, connected)
//	fallas_reles         (id_rele, timestamp, detail)
//
// History rows are transitions only. Monitor loops append a row when the
// observed state differs from the last known one, so a series is a sparse
// step function and the state at any instant is the last row at or before
// it. Timestamps are stored as fixed-width UTC text (TimestampLayout).
//
// Relays are addressed on the wire by their modbus unit id. The catalog
// maps that id to an internal row id used by fallas_reles.
//
// # Usage
//
//	grds := device.NewGRDCatalog(db.DB)
//	if _, err := grds.Seed(ctx, cfg.Devices.GRDs); err != nil {
//	    return err
//	}
//
//	history, err := device.NewSQLiteHistoryRepository(db.DB, device.ClassGRD)
//	if err != nil {
//	    return err
//	}
//	err = history.AppendSample(ctx, 5, time.Now(), true)
package device
