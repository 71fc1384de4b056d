package entities_test

import (
	"testing"

	"github.com/gantry-dev/gantry/domain/entities"
	"github.com/stretchr/testify/assert"
)

func TestRiskAssessor_AssessPermissions(t *testing.T) {
	assessor := entities.NewRiskAssessor()

	tests := []struct {
		name        string
		permissions *entities.Permissions
		want        entities.RiskLevel
	}{
		{
			name:        "nil permissions",
			permissions: nil,
			want:        entities.RiskLevelLow,
		},
		{
			name:        "empty permissions",
			permissions: &entities.Permissions{},
			want:        entities.RiskLevelLow,
		},
		{
			name: "narrow network access",
			permissions: &entities.Permissions{
				Network: &entities.NetworkPermission{
					Rules: []entities.NetworkRule{
						{Hosts: []string{"api.example.com"}, Ports: []string{"443"}},
					},
				},
			},
			want: entities.RiskLevelMedium,
		},
		{
			name: "wildcard host",
			permissions: &entities.Permissions{
				Network: &entities.NetworkPermission{
					Rules: []entities.NetworkRule{
						{Hosts: []string{"*"}, Ports: []string{"443"}},
					},
				},
			},
			want: entities.RiskLevelHigh,
		},
		{
			name: "narrow filesystem read",
			permissions: &entities.Permissions{
				FileSystem: &entities.FileSystemPermission{
					Rules: []entities.FileSystemRule{
						{Read: []string{"/data/config.yaml"}},
					},
				},
			},
			want: entities.RiskLevelLow,
		},
		{
			name: "recursive filesystem read",
			permissions: &entities.Permissions{
				FileSystem: &entities.FileSystemPermission{
					Rules: []entities.FileSystemRule{
						{Read: []string{"/home/**"}},
					},
				},
			},
			want: entities.RiskLevelHigh,
		},
		{
			name: "filesystem write",
			permissions: &entities.Permissions{
				FileSystem: &entities.FileSystemPermission{
					Rules: []entities.FileSystemRule{
						{Write: []string{"/tmp/out/result.json"}},
					},
				},
			},
			want: entities.RiskLevelMedium,
		},
		{
			name: "sensitive read",
			permissions: &entities.Permissions{
				FileSystem: &entities.FileSystemPermission{
					Rules: []entities.FileSystemRule{
						{Read: []string{"/etc/hosts"}},
					},
				},
			},
			want: entities.RiskLevelMedium,
		},
		{
			name: "broad env pattern",
			permissions: &entities.Permissions{
				Environment: &entities.EnvironmentPermission{
					Variables: []string{"AWS_*"},
				},
			},
			want: entities.RiskLevelHigh,
		},
		{
			name: "specific env variable",
			permissions: &entities.Permissions{
				Environment: &entities.EnvironmentPermission{
					Variables: []string{"HOME"},
				},
			},
			want: entities.RiskLevelLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, assessor.AssessPermissions(tt.permissions))
		})
	}
}

func TestRiskAssessor_CustomBroadPatterns(t *testing.T) {
	assessor := entities.NewRiskAssessor(
		entities.WithCustomBroadPatterns("env", []string{"VAULT_*"}),
		entities.WithCustomBroadPatterns("fs", []string{"/secrets"}),
	)

	env := &entities.Permissions{
		Environment: &entities.EnvironmentPermission{
			Variables: []string{"VAULT_*"},
		},
	}
	assert.Equal(t, entities.RiskLevelHigh, assessor.AssessPermissions(env))

	fs := &entities.Permissions{
		FileSystem: &entities.FileSystemPermission{
			Rules: []entities.FileSystemRule{
				{Read: []string{"/secrets"}},
			},
		},
	}
	assert.Equal(t, entities.RiskLevelHigh, assessor.AssessPermissions(fs))

	// The stock assessor does not know the custom patterns.
	assert.Equal(t, entities.RiskLevelLow, entities.NewRiskAssessor().AssessPermissions(fs))
}

func TestRiskAssessor_DescribeRisks(t *testing.T) {
	assessor := entities.NewRiskAssessor()

	p := &entities.Permissions{
		Network: &entities.NetworkPermission{
			Rules: []entities.NetworkRule{
				{Hosts: []string{"*"}, Ports: []string{"*"}},
			},
		},
		FileSystem: &entities.FileSystemPermission{
			Rules: []entities.FileSystemRule{
				{Write: []string{"/tmp/out/result.json"}},
			},
		},
	}

	risks := assessor.DescribeRisks(p)

	assert.Contains(t, risks, "Accesses any network host (High Risk)")
	assert.Contains(t, risks, "Write access to filesystem")
	assert.Nil(t, assessor.DescribeRisks(nil))
}

func TestRiskAssessor_DescribeRisks_RecursiveWrite(t *testing.T) {
	assessor := entities.NewRiskAssessor()

	p := &entities.Permissions{
		FileSystem: &entities.FileSystemPermission{
			Rules: []entities.FileSystemRule{
				{Write: []string{"/out/**"}},
			},
		},
	}

	risks := assessor.DescribeRisks(p)

	// A recursive write is reported as both the broad hazard and plain
	// write access, mirroring what AssessPermissions grades.
	assert.Contains(t, risks, "Recursive write access to filesystem (High Risk)")
	assert.Contains(t, risks, "Write access to filesystem")
	assert.Equal(t, entities.RiskLevelHigh, assessor.AssessPermissions(p))
}

func TestRiskLevel_String(t *testing.T) {
	assert.Equal(t, "Low", entities.RiskLevelLow.String())
	assert.Equal(t, "Medium", entities.RiskLevelMedium.String())
	assert.Equal(t, "High", entities.RiskLevelHigh.String())
	assert.Equal(t, "Unknown", entities.RiskLevel(99).String())
}
