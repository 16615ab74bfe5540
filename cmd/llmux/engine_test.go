package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducks/llmux/config"
)

func TestResolveTeamUnknownNameErrors(t *testing.T) {
	cfg := &config.Config{Teams: map[string]config.Team{}}
	_, err := resolveTeam(cfg, "missing")
	require.Error(t, err)
}

func TestResolveTeamEmptyNameIsNoTeam(t *testing.T) {
	cfg := &config.Config{}
	team, err := resolveTeam(cfg, "")
	require.NoError(t, err)
	assert.Nil(t, team)
}

func TestResolveTeamFound(t *testing.T) {
	cfg := &config.Config{Teams: map[string]config.Team{"alpha": {Description: "team alpha"}}}
	team, err := resolveTeam(cfg, "alpha")
	require.NoError(t, err)
	require.NotNil(t, team)
	assert.Equal(t, "team alpha", team.Description)
}

func TestResolveEcosystemDefaultsWithoutTeam(t *testing.T) {
	assert.Equal(t, "default", resolveEcosystem(""))
}

func TestResolveEcosystemReusesTeamName(t *testing.T) {
	assert.Equal(t, "alpha", resolveEcosystem("alpha"))
}
