package detectiondb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE detection(
			id INTEGER PRIMARY KEY,
			time INT NOT NULL,
			seq INT NOT NULL,
			frame_id TEXT NOT NULL,
			num_objects INT NOT NULL,
			objects TEXT,
			image_key TEXT
		);
		CREATE INDEX idx_detection_time ON detection(time);
	`))

	return migs
}
