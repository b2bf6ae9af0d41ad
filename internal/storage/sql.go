package storage

// The table layout follows the storage engine contract: files keyed by a
// unique file_name, raw readings referencing their source file, and
// per-file aggregates with a composite primary key. Range partitioning of
// the raw table by ts is the engine's concern; the pipeline only inserts
// and must not assume a specific partition exists.
const initSchemaSQL = `
CREATE TABLE IF NOT EXISTS files (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    file_name   TEXT NOT NULL UNIQUE,
    upload_date TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_sensor_data_partitioned (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    file_name   TEXT NOT NULL,
    ts          TIMESTAMP NOT NULL,
    device      TEXT NOT NULL,
    temp        REAL,
    humidity    REAL,
    co          REAL,
    lpg         REAL,
    smoke       REAL,
    motion      BOOLEAN,
    light       BOOLEAN,
    ingested_at TIMESTAMP NOT NULL,
    file_id     INTEGER NOT NULL REFERENCES files (id)
);

CREATE TABLE IF NOT EXISTS aggregated_metrics (
    file_id      INTEGER NOT NULL REFERENCES files (id),
    device       TEXT NOT NULL,
    sensor_type  TEXT NOT NULL,
    min_value    REAL NOT NULL,
    max_value    REAL NOT NULL,
    avg_value    REAL NOT NULL,
    std_value    REAL NOT NULL,
    processed_at TIMESTAMP NOT NULL,
    PRIMARY KEY (file_id, device, sensor_type)
);`

// Indexes are created on Close, once bulk ingestion is done.
const initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_raw_sensor_data_ts ON raw_sensor_data_partitioned (ts);
CREATE INDEX IF NOT EXISTS idx_raw_sensor_data_device ON raw_sensor_data_partitioned (device);
CREATE INDEX IF NOT EXISTS idx_raw_sensor_data_file_name ON raw_sensor_data_partitioned (file_name);`

const (
	insertFileSQL = `
INSERT INTO files (
                   file_name,
                   upload_date)
VALUES (?, ?)
ON CONFLICT (file_name) DO NOTHING`

	selectFileSQL = `
SELECT
    id,
    file_name,
    upload_date
FROM files
WHERE
    file_name = ?`

	selectFilesSQL = `
SELECT
    id,
    file_name,
    upload_date
FROM files
ORDER BY upload_date`

	insertAggregateSQL = `
INSERT INTO aggregated_metrics (file_id,
                                device,
                                sensor_type,
                                min_value,
                                max_value,
                                avg_value,
                                std_value,
                                processed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	selectReadingsSQL = `
SELECT
    ts,
    device,
    temp,
    humidity,
    co,
    lpg,
    smoke
FROM raw_sensor_data_partitioned
WHERE
    ts BETWEEN ? AND ?
ORDER BY device, ts`
)

const insertReadingSQL = `
    INSERT INTO raw_sensor_data_partitioned (
        file_name,
        ts,
        device,
        temp,
        humidity,
        co,
        lpg,
        smoke,
        motion,
        light,
        ingested_at,
        file_id
    )
    VALUES `
