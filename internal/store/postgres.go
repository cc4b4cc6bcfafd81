package store

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/jackc/pgx/v5/pgconn"
    _ "github.com/jackc/pgx/v5/stdlib"

    "bustrack/internal/errs"
    "bustrack/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) SetPool(maxOpen, maxIdle int) {
    if maxOpen > 0 { p.db.SetMaxOpenConns(maxOpen) }
    if maxIdle > 0 { p.db.SetMaxIdleConns(maxIdle) }
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies *.sql files from dir in lexical order. Dev helper; the
// files are written to be re-runnable (IF NOT EXISTS / OR REPLACE).
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil {
        return err
    }
    names := []string{}
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
            names = append(names, e.Name())
        }
    }
    sort.Strings(names)
    for _, n := range names {
        b, err := os.ReadFile(filepath.Join(dir, n))
        if err != nil {
            return err
        }
        if _, err := p.db.Exec(string(b)); err != nil {
            return fmt.Errorf("migration %s: %w", n, err)
        }
    }
    return nil
}

const telemetryCols = `id, bus_id, parada_id, ts, evento, numero_pasajeros, raw_payload, rssi, route_id, orden, msg_id, created_at`

func (p *Postgres) AppendTelemetry(ctx context.Context, ev model.Event) (model.Event, bool, error) {
    if ev.TS.IsZero() {
        ev.TS = time.Now().UTC()
    }
    // ON CONFLICT DO NOTHING makes the second writer of the same msg_id a
    // silent no-op; NULL msg_id rows never conflict with each other.
    row := p.db.QueryRowContext(ctx, `
        INSERT INTO telemetria (bus_id, parada_id, ts, evento, numero_pasajeros, raw_payload, rssi, route_id, orden, msg_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (msg_id) DO NOTHING
        RETURNING `+telemetryCols,
        nullIfEmpty(ev.BusID), nullIfEmpty(ev.StopID), ev.TS, ev.Kind, ev.Passengers,
        nullIfEmptyBytes(ev.RawPayload), ev.RSSI, nullIfEmpty(ev.RouteID), ev.Seq, nullIfEmpty(ev.MsgID))
    stored, err := scanEvent(row)
    if err == nil {
        return stored, false, nil
    }
    if errors.Is(err, sql.ErrNoRows) && ev.MsgID != "" {
        // Conflict absorbed; hand back the row the first writer stored.
        row := p.db.QueryRowContext(ctx, `SELECT `+telemetryCols+` FROM telemetria WHERE msg_id = $1`, ev.MsgID)
        stored, err := scanEvent(row)
        if err != nil {
            return model.Event{}, false, &errs.TransientError{Op: "telemetria dedup lookup", Err: err}
        }
        return stored, true, nil
    }
    return model.Event{}, false, mapPgError(err)
}

func (p *Postgres) ListTelemetry(ctx context.Context, f TelemetryFilter) ([]model.Event, error) {
    f = clampFilter(f)
    where := []string{}
    vals := []any{}
    idx := 1
    if f.BusID != "" {
        where = append(where, fmt.Sprintf("bus_id = $%d", idx))
        vals = append(vals, f.BusID)
        idx++
    }
    if f.StopID != "" {
        where = append(where, fmt.Sprintf("parada_id = $%d", idx))
        vals = append(vals, f.StopID)
        idx++
    }
    clause := ""
    if len(where) > 0 {
        clause = "WHERE " + strings.Join(where, " AND ")
    }
    q := fmt.Sprintf(`SELECT %s FROM telemetria %s ORDER BY ts DESC, id DESC LIMIT $%d OFFSET $%d`, telemetryCols, clause, idx, idx+1)
    vals = append(vals, f.Limit, f.Offset)
    rows, err := p.db.QueryContext(ctx, q, vals...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := []model.Event{}
    for rows.Next() {
        ev, err := scanEvent(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, ev)
    }
    return out, rows.Err()
}

func (p *Postgres) CreateBus(ctx context.Context, b model.Bus) (model.Bus, error) {
    if b.Status == "" {
        b.Status = "activo"
    }
    row := p.db.QueryRowContext(ctx, `
        INSERT INTO buses (bus_id, placa, estado, capacidad, descripcion)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING bus_id, placa, estado, capacidad, descripcion, created_at`,
        b.BusID, nullIfEmpty(b.Plate), b.Status, b.Capacity, nullIfEmpty(b.Description))
    return scanBus(row)
}

func (p *Postgres) GetBus(ctx context.Context, id string) (model.Bus, error) {
    row := p.db.QueryRowContext(ctx, `SELECT bus_id, placa, estado, capacidad, descripcion, created_at FROM buses WHERE bus_id = $1`, id)
    return scanBus(row)
}

func (p *Postgres) ListBuses(ctx context.Context) ([]model.Bus, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT bus_id, placa, estado, capacidad, descripcion, created_at FROM buses ORDER BY bus_id`)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := []model.Bus{}
    for rows.Next() {
        b, err := scanBus(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, b)
    }
    return out, rows.Err()
}

func (p *Postgres) UpdateBus(ctx context.Context, id string, patch model.BusPatch) (model.Bus, error) {
    row := p.db.QueryRowContext(ctx, `
        UPDATE buses SET
            placa = COALESCE($1, placa),
            estado = COALESCE($2, estado),
            capacidad = COALESCE($3, capacidad),
            descripcion = COALESCE($4, descripcion)
        WHERE bus_id = $5
        RETURNING bus_id, placa, estado, capacidad, descripcion, created_at`,
        patch.Plate, patch.Status, patch.Capacity, patch.Description, id)
    return scanBus(row)
}

func (p *Postgres) DeleteBus(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM buses WHERE bus_id = $1`, id)
    if err != nil {
        return mapPgError(err)
    }
    n, _ := res.RowsAffected()
    if n == 0 {
        return ErrNotFound
    }
    return nil
}

func (p *Postgres) CreateStop(ctx context.Context, s model.Stop) (model.Stop, error) {
    if s.Status == "" {
        s.Status = "activa"
    }
    row := p.db.QueryRowContext(ctx, `
        INSERT INTO paradas (parada_id, nombre, estado, descripcion, orden, coord_x, coord_y)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING `+stopCols,
        s.StopID, s.Name, s.Status, nullIfEmpty(s.Description), s.Seq, s.CoordX, s.CoordY)
    return scanStop(row)
}

const stopCols = `parada_id, nombre, estado, descripcion, orden, coord_x, coord_y, ultima_conexion_bus, ultima_actualizacion, created_at`

func (p *Postgres) GetStop(ctx context.Context, id string) (model.Stop, error) {
    row := p.db.QueryRowContext(ctx, `SELECT `+stopCols+` FROM paradas WHERE parada_id = $1`, id)
    return scanStop(row)
}

func (p *Postgres) ListStops(ctx context.Context) ([]model.Stop, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT `+stopCols+` FROM paradas ORDER BY orden NULLS LAST, nombre`)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := []model.Stop{}
    for rows.Next() {
        s, err := scanStop(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) UpdateStop(ctx context.Context, id string, patch model.StopPatch) (model.Stop, error) {
    row := p.db.QueryRowContext(ctx, `
        UPDATE paradas SET
            nombre = COALESCE($1, nombre),
            estado = COALESCE($2, estado),
            descripcion = COALESCE($3, descripcion),
            orden = COALESCE($4, orden),
            coord_x = COALESCE($5, coord_x),
            coord_y = COALESCE($6, coord_y),
            ultima_actualizacion = now()
        WHERE parada_id = $7
        RETURNING `+stopCols,
        patch.Name, patch.Status, patch.Description, patch.Seq, patch.CoordX, patch.CoordY, id)
    return scanStop(row)
}

func (p *Postgres) DeleteStop(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM paradas WHERE parada_id = $1`, id)
    if err != nil {
        return mapPgError(err)
    }
    n, _ := res.RowsAffected()
    if n == 0 {
        return ErrNotFound
    }
    return nil
}

func (p *Postgres) BusExists(ctx context.Context, id string) (bool, error) {
    var one int
    err := p.db.QueryRowContext(ctx, `SELECT 1 FROM buses WHERE bus_id = $1`, id).Scan(&one)
    if errors.Is(err, sql.ErrNoRows) {
        return false, nil
    }
    return err == nil, err
}

func (p *Postgres) StopExists(ctx context.Context, id string) (bool, error) {
    var one int
    err := p.db.QueryRowContext(ctx, `SELECT 1 FROM paradas WHERE parada_id = $1`, id).Scan(&one)
    if errors.Is(err, sql.ErrNoRows) {
        return false, nil
    }
    return err == nil, err
}

func (p *Postgres) CurrentBusState(ctx context.Context, id string) (model.BusRealtime, error) {
    var b model.BusRealtime
    var lastStop, lastEvent sql.NullString
    var lastSeen sql.NullTime
    var passengers sql.NullInt64
    row := p.db.QueryRowContext(ctx, `SELECT bus_id, ultima_parada, ultimo_evento, ultima_vez, numero_pasajeros FROM vw_buses_realtime WHERE bus_id = $1 LIMIT 1`, id)
    if err := row.Scan(&b.BusID, &lastStop, &lastEvent, &lastSeen, &passengers); err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return b, ErrNotFound
        }
        return b, err
    }
    b.LastStopID = lastStop.String
    b.LastEvent = lastEvent.String
    if lastSeen.Valid {
        t := lastSeen.Time
        b.LastSeen = &t
    }
    if passengers.Valid {
        n := int(passengers.Int64)
        b.Passengers = &n
    }
    return b, nil
}

func (p *Postgres) CurrentStopState(ctx context.Context, id string) (model.StopRealtime, error) {
    var s model.StopRealtime
    var bus, lastEvent sql.NullString
    var lastSeen sql.NullTime
    row := p.db.QueryRowContext(ctx, `SELECT parada_id, realtime_status, current_bus_id, ultimo_evento, ultima_vez FROM vw_paradas_realtime WHERE parada_id = $1 LIMIT 1`, id)
    if err := row.Scan(&s.StopID, &s.Status, &bus, &lastEvent, &lastSeen); err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return s, ErrNotFound
        }
        return s, err
    }
    s.CurrentBusID = bus.String
    s.LastEvent = lastEvent.String
    if lastSeen.Valid {
        t := lastSeen.Time
        s.LastSeen = &t
    }
    return s, nil
}

type rowScanner interface {
    Scan(dest ...any) error
}

func scanEvent(r rowScanner) (model.Event, error) {
    var ev model.Event
    var busID, stopID, routeID, msgID sql.NullString
    var passengers, rssi, seq sql.NullInt64
    var raw []byte
    if err := r.Scan(&ev.ID, &busID, &stopID, &ev.TS, &ev.Kind, &passengers, &raw, &rssi, &routeID, &seq, &msgID, &ev.CreatedAt); err != nil {
        return ev, err
    }
    ev.BusID = busID.String
    ev.StopID = stopID.String
    ev.RouteID = routeID.String
    ev.MsgID = msgID.String
    ev.RawPayload = raw
    if passengers.Valid {
        n := int(passengers.Int64)
        ev.Passengers = &n
    }
    if rssi.Valid {
        n := int(rssi.Int64)
        ev.RSSI = &n
    }
    if seq.Valid {
        n := int(seq.Int64)
        ev.Seq = &n
    }
    return ev, nil
}

func scanBus(r rowScanner) (model.Bus, error) {
    var b model.Bus
    var plate, desc sql.NullString
    var capacity sql.NullInt64
    if err := r.Scan(&b.BusID, &plate, &b.Status, &capacity, &desc, &b.CreatedAt); err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return b, ErrNotFound
        }
        return b, mapPgError(err)
    }
    b.Plate = plate.String
    b.Description = desc.String
    if capacity.Valid {
        n := int(capacity.Int64)
        b.Capacity = &n
    }
    return b, nil
}

func scanStop(r rowScanner) (model.Stop, error) {
    var s model.Stop
    var desc sql.NullString
    var seq sql.NullInt64
    var cx, cy sql.NullFloat64
    var lastBus, updated sql.NullTime
    if err := r.Scan(&s.StopID, &s.Name, &s.Status, &desc, &seq, &cx, &cy, &lastBus, &updated, &s.CreatedAt); err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return s, ErrNotFound
        }
        return s, mapPgError(err)
    }
    s.Description = desc.String
    if seq.Valid {
        n := int(seq.Int64)
        s.Seq = &n
    }
    if cx.Valid {
        v := cx.Float64
        s.CoordX = &v
    }
    if cy.Valid {
        v := cy.Float64
        s.CoordY = &v
    }
    if lastBus.Valid {
        t := lastBus.Time
        s.LastBusSeen = &t
    }
    if updated.Valid {
        t := updated.Time
        s.UpdatedAt = &t
    }
    return s, nil
}

// mapPgError translates constraint violations into the shared taxonomy:
// 23505 unique -> ConflictError, 23503 FK -> ReferenceError.
func mapPgError(err error) error {
    if err == nil {
        return nil
    }
    var pgErr *pgconn.PgError
    if errors.As(err, &pgErr) {
        switch pgErr.Code {
        case "23505":
            return &errs.ConflictError{Msg: pgErr.Detail}
        case "23503":
            entity := "bus"
            if strings.Contains(pgErr.ConstraintName, "parada") {
                entity = "parada"
            }
            return &errs.ReferenceError{Entity: entity, ID: pgErr.Detail}
        }
    }
    return err
}

// Helpers
func nullIfEmpty(s string) any {
    if s == "" {
        return nil
    }
    return s
}

func nullIfEmptyBytes(b []byte) any {
    if len(b) == 0 {
        return nil
    }
    return b
}
