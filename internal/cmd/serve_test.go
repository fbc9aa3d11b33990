package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/topichub/pkg/admission"
	"github.com/3leaps/topichub/pkg/artifact"
	"github.com/3leaps/topichub/pkg/encoder"
	"github.com/3leaps/topichub/pkg/jobregistry"
	"github.com/3leaps/topichub/pkg/labeler"
)

func TestStoreHealthChecker(t *testing.T) {
	t.Run("round trip succeeds", func(t *testing.T) {
		store := artifact.NewMemoryStore()
		checker := storeHealthChecker{store: store, namespace: "tdh:"}
		require.NoError(t, checker.CheckHealth(context.Background()))

		ok, err := store.Exists(context.Background(), "tdh:health:probe")
		require.NoError(t, err)
		assert.False(t, ok, "probe key should be removed")
	})

	t.Run("closed store fails", func(t *testing.T) {
		store := artifact.NewMemoryStore()
		require.NoError(t, store.Close())
		err := storeHealthChecker{store: store}.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store write")
	})

	t.Run("missing store fails", func(t *testing.T) {
		err := storeHealthChecker{}.CheckHealth(context.Background())
		require.Error(t, err)
	})
}

func TestEncoderHealthChecker(t *testing.T) {
	reg := encoder.NewRegistry()
	checker := encoderHealthChecker{encoders: reg}
	require.Error(t, checker.CheckHealth(context.Background()))

	require.NoError(t, reg.Register(encoder.Model{Name: "tfidf"}, encoder.NewTFIDF("tfidf", 32)))
	assert.NoError(t, checker.CheckHealth(context.Background()))
}

func TestLabelerHealthChecker(t *testing.T) {
	checker := labelerHealthChecker{labeler: labeler.Keywords{}}
	assert.NoError(t, checker.CheckHealth(context.Background()))
	assert.Equal(t, labeler.KeywordsName, checker.HealthDetails()["labeler"])

	assert.Error(t, labelerHealthChecker{}.CheckHealth(context.Background()))
}

func TestJobsHealthChecker(t *testing.T) {
	reg, err := jobregistry.New(artifact.NewMemoryStore(), admission.New(2), jobregistry.Config{})
	require.NoError(t, err)
	require.True(t, reg.Admission().TryAcquire("job-1"))

	checker := jobsHealthChecker{registry: reg}
	assert.NoError(t, checker.CheckHealth(context.Background()))
	details := checker.HealthDetails()
	assert.Equal(t, 1, details["activeJobs"])
	assert.Equal(t, 2, details["maxConcurrentJobs"])
}

func TestIdentityHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		binaryName string
		envPrefix  string
		configName string
		wantErr    bool
		errContain string
	}{
		{
			name:       "all fields valid",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    false,
		},
		{
			name:       "missing binary name",
			binaryName: "",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing binary name",
		},
		{
			name:       "missing env prefix",
			binaryName: "myapp",
			envPrefix:  "",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing env prefix",
		},
		{
			name:       "missing config name",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "",
			wantErr:    true,
			errContain: "missing config name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := identityHealthChecker{
				binaryName: tt.binaryName,
				envPrefix:  tt.envPrefix,
				configName: tt.configName,
			}

			err := checker.CheckHealth(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
