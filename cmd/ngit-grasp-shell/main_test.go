package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidRepoName(t *testing.T) {
	assert.True(t, isValidRepoName("my-repo"))
	assert.True(t, isValidRepoName("my_repo_2"))
	assert.False(t, isValidRepoName(""))
	assert.False(t, isValidRepoName("../etc/passwd"))
	assert.False(t, isValidRepoName("my repo"))
}

func TestParseSSHCommandUploadPack(t *testing.T) {
	cmd, err := parseSSHCommand("git-upload-pack '9a83779e75080556c656d4d418d02a4d7edbe288a2f9e6dd2b48799ec935184c/repo-name.git'")
	require.NoError(t, err)
	assert.Equal(t, "git-upload-pack", cmd.Verb)
	assert.Equal(t, "9a83779e75080556c656d4d418d02a4d7edbe288a2f9e6dd2b48799ec935184c", cmd.OwnerPubKey)
	assert.Equal(t, "repo-name", cmd.RepoName)
}

func TestParseSSHCommandStripsGitSuffix(t *testing.T) {
	cmd, err := parseSSHCommand("git-receive-pack 'aa/repo.git'")
	require.NoError(t, err)
	assert.Equal(t, "repo", cmd.RepoName)
}

func TestParseSSHCommandRejectsMissingSlash(t *testing.T) {
	_, err := parseSSHCommand("git-upload-pack 'no-slash-here'")
	require.Error(t, err)
}

func TestParseSSHCommandRejectsNonHexOwner(t *testing.T) {
	_, err := parseSSHCommand("git-upload-pack 'not-hex/repo'")
	require.Error(t, err)
}

func TestParseSSHCommandRejectsMalformed(t *testing.T) {
	_, err := parseSSHCommand("git-upload-pack")
	require.Error(t, err)
}

func TestParseSSHCommandRejectsInvalidRepoName(t *testing.T) {
	_, err := parseSSHCommand("git-upload-pack 'aa/../etc'")
	require.Error(t, err)
}
