// Package warehouse holds the songplays star schema and the per-record
// operations that load it: time decomposition, dimension upserts and
// songplay resolution.
package warehouse

import "sparkify/internal/storage"

const (
	TableSongs     = storage.SongsTable
	TableArtists   = storage.ArtistsTable
	TableUsers     = "users"
	TableTime      = "time"
	TableSongplays = "songplays"
)

func col(name string, typ storage.ColumnType) storage.ColumnSpec {
	return storage.ColumnSpec{Name: name, Type: typ}
}

func nullCol(name string, typ storage.ColumnType) storage.ColumnSpec {
	return storage.ColumnSpec{Name: name, Type: typ, Nullable: true}
}

func cascadeFK(column, refTable string) storage.ForeignKeySpec {
	return storage.ForeignKeySpec{
		Columns:    []string{column},
		RefTable:   refTable,
		RefColumns: []string{column},
		OnDelete:   storage.ActionCascade,
		OnUpdate:   storage.ActionCascade,
	}
}

var (
	ArtistsSpec = storage.TableSpec{
		Name: TableArtists,
		Columns: []storage.ColumnSpec{
			col("artist_id", storage.TypeText),
			col("name", storage.TypeText),
			nullCol("location", storage.TypeText),
			nullCol("latitude", storage.TypeDouble),
			nullCol("longitude", storage.TypeDouble),
		},
		PrimaryKey: []string{"artist_id"},
	}

	SongsSpec = storage.TableSpec{
		Name: TableSongs,
		Columns: []storage.ColumnSpec{
			col("song_id", storage.TypeText),
			col("title", storage.TypeText),
			col("artist_id", storage.TypeText),
			nullCol("year", storage.TypeInt),
			col("duration", storage.TypeNumeric),
		},
		PrimaryKey:  []string{"song_id"},
		ForeignKeys: []storage.ForeignKeySpec{cascadeFK("artist_id", TableArtists)},
	}

	UsersSpec = storage.TableSpec{
		Name: TableUsers,
		Columns: []storage.ColumnSpec{
			col("user_id", storage.TypeText),
			col("first_name", storage.TypeText),
			col("last_name", storage.TypeText),
			col("gender", storage.TypeText),
			col("level", storage.TypeText),
		},
		PrimaryKey: []string{"user_id"},
	}

	TimeSpec = storage.TableSpec{
		Name: TableTime,
		Columns: []storage.ColumnSpec{
			col("start_time", storage.TypeTimestamp),
			col("hour", storage.TypeInt),
			col("day", storage.TypeInt),
			col("week", storage.TypeInt),
			col("month", storage.TypeInt),
			col("year", storage.TypeInt),
			col("weekday", storage.TypeInt),
		},
		PrimaryKey: []string{"start_time"},
	}

	SongplaysSpec = storage.TableSpec{
		Name: TableSongplays,
		Columns: []storage.ColumnSpec{
			col("start_time", storage.TypeTimestamp),
			col("user_id", storage.TypeText),
			col("level", storage.TypeText),
			nullCol("song_id", storage.TypeText),
			nullCol("artist_id", storage.TypeText),
			col("session_id", storage.TypeBigInt),
			col("location", storage.TypeText),
			col("user_agent", storage.TypeText),
		},
		PrimaryKey: []string{"start_time", "user_id"},
		ForeignKeys: []storage.ForeignKeySpec{
			cascadeFK("start_time", TableTime),
			cascadeFK("user_id", TableUsers),
			cascadeFK("song_id", TableSongs),
			cascadeFK("artist_id", TableArtists),
		},
	}
)

// Tables returns the star schema in creation order: every table comes after
// the tables it references.
func Tables() []storage.TableSpec {
	return []storage.TableSpec{ArtistsSpec, SongsSpec, UsersSpec, TimeSpec, SongplaysSpec}
}
