package db

// PoolStats is a point-in-time view of a backend's connection pool
type PoolStats struct {
	Total    int64
	Idle     int64
	Acquired int64
	// Acquires is cumulative: connection acquisitions for pgx, waits for database/sql
	Acquires int64
}

// PoolReporter is implemented by backends that hold a connection pool
type PoolReporter interface {
	PoolStats() (PoolStats, error)
}

// PoolStats reports the pgx pool statistics
func (s *PostgresPoolSnapshotStore) PoolStats() (PoolStats, error) {
	st := s.pool.Stat()
	return PoolStats{
		Total:    int64(st.TotalConns()),
		Idle:     int64(st.IdleConns()),
		Acquired: int64(st.AcquiredConns()),
		Acquires: st.AcquireCount(),
	}, nil
}

// PoolStats reports the database/sql pool statistics behind GORM
func (s *GormSnapshotStore) PoolStats() (PoolStats, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return PoolStats{}, err
	}
	st := sqlDB.Stats()
	return PoolStats{
		Total:    int64(st.OpenConnections),
		Idle:     int64(st.Idle),
		Acquired: int64(st.InUse),
		Acquires: st.WaitCount,
	}, nil
}
