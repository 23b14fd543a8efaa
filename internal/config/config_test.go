package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("CONFIDENCE_THRESHOLD", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.ConfidenceThreshold)
	assert.Equal(t, 5, cfg.HotspotThreshold)
	assert.Equal(t, 1000.0, cfg.HotspotRadiusM)
	assert.Equal(t, 30*24*time.Hour, cfg.HotspotWindow)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "0.65")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("PIPELINE_TIMEOUT", "10s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.65, cfg.ConfidenceThreshold)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 10*time.Second, cfg.PipelineTimeout)
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "1.5")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadProductionRequiresSecrets(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/civic")
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestEmbeddedRegistry(t *testing.T) {
	reg, err := LoadRegistry("")
	require.NoError(t, err)

	snap := reg.Current()
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, "embedded", snap.Source)

	m, ok := snap.Lookup(models.CategoryRoadDamage)
	require.True(t, ok)
	assert.Equal(t, "PUBLIC_WORKS", m.PrimaryDepartment)
	assert.Equal(t, 8, m.EscalationThreshold)
	assert.Contains(t, m.SecondaryDepartments, "TRAFFIC_MANAGEMENT")

	_, ok = snap.Lookup(models.CategoryOther)
	assert.False(t, ok, "OTHER goes to manual triage")

	assert.True(t, snap.KnownDepartment("WATER_BOARD"))
	assert.True(t, snap.KnownDepartment(models.DepartmentManualTriage))
	assert.False(t, snap.KnownDepartment("MINISTRY_OF_MAGIC"))
}

func TestReplaceValidation(t *testing.T) {
	reg, err := LoadRegistry("")
	require.NoError(t, err)

	tests := []struct {
		name     string
		mappings []models.DepartmentMapping
	}{
		{"unknown category", []models.DepartmentMapping{{Category: "VOLCANO", PrimaryDepartment: "X"}}},
		{"missing primary", []models.DepartmentMapping{{Category: models.CategoryPothole}}},
		{"duplicate", []models.DepartmentMapping{
			{Category: models.CategoryPothole, PrimaryDepartment: "A"},
			{Category: models.CategoryPothole, PrimaryDepartment: "B"},
		}},
		{"threshold range", []models.DepartmentMapping{{Category: models.CategoryPothole, PrimaryDepartment: "A", EscalationThreshold: 11}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Replace(tt.mappings, "test")
			assert.Error(t, err)
			assert.Equal(t, int64(1), reg.Current().Version, "failed reload must keep previous snapshot")
		})
	}
}

func TestReplaceDefaultsThreshold(t *testing.T) {
	reg, err := NewRegistry([]models.DepartmentMapping{{Category: models.CategoryNoise, PrimaryDepartment: "POLLUTION_CONTROL"}}, "test")
	require.NoError(t, err)
	m, ok := reg.Current().Lookup(models.CategoryNoise)
	require.True(t, ok)
	assert.Equal(t, DefaultEscalationThreshold, m.EscalationThreshold)
}

func TestReloadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "departments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mappings:
  - category: POTHOLE
    primary_department: ROADS
    escalation_threshold: 6
`), 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	m, _ := reg.Current().Lookup(models.CategoryPothole)
	assert.Equal(t, "ROADS", m.PrimaryDepartment)

	require.NoError(t, os.WriteFile(path, []byte(`
mappings:
  - category: POTHOLE
    primary_department: PUBLIC_WORKS
`), 0o644))
	snap, err := reg.ReloadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
	m, _ = reg.Current().Lookup(models.CategoryPothole)
	assert.Equal(t, "PUBLIC_WORKS", m.PrimaryDepartment)
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	a := []models.DepartmentMapping{
		{Category: models.CategoryPothole, PrimaryDepartment: "A", SecondaryDepartments: []string{"A2"}},
		{Category: models.CategoryGarbage, PrimaryDepartment: "A"},
	}
	b := []models.DepartmentMapping{
		{Category: models.CategoryPothole, PrimaryDepartment: "B", SecondaryDepartments: []string{"B2"}},
		{Category: models.CategoryGarbage, PrimaryDepartment: "B"},
	}
	reg, err := NewRegistry(a, "a")
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				_, _ = reg.Replace(b, "b")
			} else {
				_, _ = reg.Replace(a, "a")
			}
		}
		close(stop)
	}()

	for done := false; !done; {
		select {
		case <-stop:
			done = true
		default:
			snap := reg.Current()
			p, _ := snap.Lookup(models.CategoryPothole)
			g, _ := snap.Lookup(models.CategoryGarbage)
			assert.Equal(t, p.PrimaryDepartment, g.PrimaryDepartment, "mixed snapshot observed")
			assert.Equal(t, p.PrimaryDepartment+"2", p.SecondaryDepartments[0])
		}
	}
	wg.Wait()
}
