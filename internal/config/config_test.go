package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HWSYNC_STUDENT_ID", "student-1")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "student-1", cfg.StudentID)
	assert.Equal(t, SourceCanvas, cfg.Source)
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, cfg.DBPath, cfg.DSN())
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, 7, cfg.ClosureLookbackDays)
	assert.Equal(t, 30, cfg.ClosureLookaheadDays)
	assert.Equal(t, 60, cfg.MaxSchoolDayIterations)
	assert.Equal(t, 100, cfg.TitleMaxLen)
	assert.Equal(t, "NH", cfg.NoHomeworkMarker)
	require.NotNil(t, cfg.Location)
	assert.Equal(t, "America/Chicago", cfg.Location.String())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HWSYNC_STUDENT_ID", "student-2")
	t.Setenv("HWSYNC_RETENTION_DAYS", "14")
	t.Setenv("HWSYNC_DRIVER", "postgres")
	t.Setenv("HWSYNC_DATABASE_URL", "postgres://localhost/hw")
	t.Setenv("HWSYNC_TIMEZONE", "Europe/Paris")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, 14, cfg.RetentionDays)
	assert.Equal(t, "postgres://localhost/hw", cfg.DSN())
	assert.Equal(t, "Europe/Paris", cfg.Location.String())
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HWSYNC_STUDENT_ID=from-dotenv\nHWSYNC_COURSE_ID=520\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("HWSYNC_STUDENT_ID")
		os.Unsetenv("HWSYNC_COURSE_ID")
	})

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.StudentID)
	assert.Equal(t, "520", cfg.CourseID)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("HWSYNC_STUDENT_ID", "student-1")
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing student", map[string]string{"HWSYNC_STUDENT_ID": ""}, "student_id is required"},
		{"postgres without url", map[string]string{"HWSYNC_DRIVER": "postgres"}, "database_url is required"},
		{"unknown driver", map[string]string{"HWSYNC_DRIVER": "mysql"}, "unknown driver"},
		{"bad timezone", map[string]string{"HWSYNC_TIMEZONE": "Mars/Olympus"}, "timezone"},
		{"negative retention", map[string]string{"HWSYNC_RETENTION_DAYS": "-1"}, "retention_days"},
		{"bad log format", map[string]string{"HWSYNC_LOG_FORMAT": "xml"}, "log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HWSYNC_STUDENT_ID", "student-1")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(New(), "")
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValidateSource(t *testing.T) {
	assert.NoError(t, (&Config{Source: SourceCanvas, CanvasDomain: "https://aaca.instructure.com", CourseID: "520"}).ValidateSource())
	assert.Error(t, (&Config{Source: SourceCanvas, CanvasDomain: "https://aaca.instructure.com"}).ValidateSource())
	assert.NoError(t, (&Config{Source: SourceFile, HTMLFile: "page.html"}).ValidateSource())
	assert.Error(t, (&Config{Source: SourceFile}).ValidateSource())
	assert.ErrorContains(t, (&Config{Source: "ftp"}).ValidateSource(), "unknown source")
}
