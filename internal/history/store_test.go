package history

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kjstillabower/weather-lookup/internal/models"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	// Unique in-memory DB per test.
	dsn := "file:history_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func appendAt(t *testing.T, repo *Repo, city string, temp float64, at time.Time) {
	t.Helper()
	obs := &models.Observation{City: city, Temperature: temp, CapturedAt: at}
	if err := repo.Append(context.Background(), obs); err != nil {
		t.Fatalf("append %s: %v", city, err)
	}
	if obs.ID == 0 {
		t.Fatalf("append %s: id not assigned", city)
	}
}

func TestRecent_NewestFirstCappedAtFive(t *testing.T) {
	repo := openTestRepo(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	cities := []string{"Moscow", "London", "Paris", "Berlin", "Rome", "Oslo", "Kazan"}
	for i, c := range cities {
		appendAt(t, repo, c, float64(i), base.Add(time.Duration(i)*time.Minute))
	}

	got, err := repo.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	want := []string{"Kazan", "Oslo", "Rome", "Berlin", "Paris"}
	if len(got) != len(want) {
		t.Fatalf("Recent() returned %d entries, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].City != w {
			t.Errorf("Recent()[%d].City = %q, want %q", i, got[i].City, w)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].CapturedAt.After(got[i-1].CapturedAt) {
			t.Errorf("Recent() not in descending time order at %d", i)
		}
	}
}

func TestRecent_FewerThanLimit(t *testing.T) {
	repo := openTestRepo(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	appendAt(t, repo, "Moscow", 1, base)
	appendAt(t, repo, "London", 2, base.Add(time.Minute))

	got, err := repo.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 || got[0].City != "London" || got[1].City != "Moscow" {
		t.Errorf("Recent() = %+v, want [London Moscow]", got)
	}
}

func TestRecent_Empty(t *testing.T) {
	repo := openTestRepo(t)
	got, err := repo.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Recent() = %d entries, want 0", len(got))
	}
}

func TestRecent_SameTimestampUsesInsertionOrder(t *testing.T) {
	repo := openTestRepo(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	appendAt(t, repo, "first", 1, at)
	appendAt(t, repo, "second", 2, at)

	got, err := repo.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 || got[0].City != "second" {
		t.Errorf("Recent() = %+v, want latest insert first", got)
	}
}

func TestRecent_LimitBounds(t *testing.T) {
	repo := openTestRepo(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		appendAt(t, repo, "c", float64(i), base.Add(time.Duration(i)*time.Second))
	}

	tests := []struct {
		limit int
		want  int
	}{
		{0, DefaultLimit},
		{-3, DefaultLimit},
		{2, 2},
		{500, 8},
	}
	for _, tc := range tests {
		got, err := repo.Recent(context.Background(), tc.limit)
		if err != nil {
			t.Fatalf("Recent(%d) error = %v", tc.limit, err)
		}
		if len(got) != tc.want {
			t.Errorf("Recent(%d) = %d entries, want %d", tc.limit, len(got), tc.want)
		}
	}
}

func TestAppend_StampsCapturedAt(t *testing.T) {
	repo := openTestRepo(t)
	fixed := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	obs := models.NewObservation("Moscow", models.Reading{Temperature: 7, Humidity: 40, WindSpeed: 2})
	if err := repo.Append(context.Background(), &obs); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := repo.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent() = %d entries, want 1", len(got))
	}
	if !got[0].CapturedAt.Equal(fixed) {
		t.Errorf("CapturedAt = %v, want %v", got[0].CapturedAt, fixed)
	}
	if got[0].Humidity != 40 || got[0].WindSpeed != 2 {
		t.Errorf("stored observation = %+v", got[0])
	}
}

// TestRecent_MixedZonesOrderedByInstant appends timestamps in different zones and checks
// ordering follows the instant, not the local wall clock.
func TestRecent_MixedZonesOrderedByInstant(t *testing.T) {
	repo := openTestRepo(t)
	msk := time.FixedZone("MSK", 3*60*60)
	pdt := time.FixedZone("PDT", -7*60*60)

	appendAt(t, repo, "older", 1, time.Date(2026, 3, 1, 12, 0, 0, 0, msk))  // 09:00 UTC
	appendAt(t, repo, "newer", 2, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	appendAt(t, repo, "middle", 3, time.Date(2026, 3, 1, 2, 30, 0, 0, pdt)) // 09:30 UTC

	got, err := repo.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	want := []string{"newer", "middle", "older"}
	if len(got) != len(want) {
		t.Fatalf("Recent() returned %d entries, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].City != w {
			t.Errorf("Recent()[%d] = %q, want %q", i, got[i].City, w)
		}
		if _, offset := got[i].CapturedAt.Zone(); offset != 0 {
			t.Errorf("Recent()[%d].CapturedAt = %v, want UTC offset", i, got[i].CapturedAt)
		}
	}
}

func TestAppend_NormalizesCallerTimeToUTC(t *testing.T) {
	repo := openTestRepo(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("MSK", 3*60*60))
	obs := &models.Observation{City: "Moscow", CapturedAt: at}
	if err := repo.Append(context.Background(), obs); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if obs.CapturedAt.Location() != time.UTC {
		t.Errorf("CapturedAt location = %v, want UTC", obs.CapturedAt.Location())
	}
	if !obs.CapturedAt.Equal(at) {
		t.Errorf("CapturedAt = %v, want same instant as %v", obs.CapturedAt, at)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mysql", "x")
	if !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Open(mysql) error = %v, want ErrUnknownDriver", err)
	}
}

func TestOpen_SQLiteFile(t *testing.T) {
	repo, err := Open(DriverSQLite, t.TempDir()+"/weather.db")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer repo.Close()
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
