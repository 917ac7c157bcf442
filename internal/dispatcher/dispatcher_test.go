package dispatcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	succeedOn map[string]bool // "<cloneURL>|<transport>" -> succeeds
	calls     []Endpoint
}

func key(ep Endpoint) string { return ep.CloneURL + "|" + string(ep.Transport) }

func (f *fakeClient) attempt(ep Endpoint) error {
	f.calls = append(f.calls, ep)
	if f.succeedOn[key(ep)] {
		return nil
	}
	return fmt.Errorf("simulated failure for %s", key(ep))
}

func (f *fakeClient) Fetch(_ context.Context, ep Endpoint) error { return f.attempt(ep) }
func (f *fakeClient) Push(_ context.Context, ep Endpoint) error  { return f.attempt(ep) }
func (f *fakeClient) List(_ context.Context, ep Endpoint) ([]RemoteRef, error) {
	return nil, f.attempt(ep)
}

func TestPlanFetchOrderingDefault(t *testing.T) {
	plan, err := Plan("https://example.com/repo.git", DirectionFetch, false)
	require.NoError(t, err)
	assert.Equal(t, []Transport{TransportHTTPSUnauth, TransportSSH, TransportHTTPSCred}, plan)
}

func TestPlanPushOrderingDefault(t *testing.T) {
	plan, err := Plan("https://example.com/repo.git", DirectionPush, false)
	require.NoError(t, err)
	assert.Equal(t, []Transport{TransportSSH, TransportHTTPSCred}, plan)
}

func TestPlanGraspFetchIsUnauthOnly(t *testing.T) {
	plan, err := Plan("https://grasp.example/repo.git", DirectionFetch, true)
	require.NoError(t, err)
	assert.Equal(t, []Transport{TransportHTTPSUnauth}, plan)
}

func TestPlanGraspPushIsCredOnly(t *testing.T) {
	plan, err := Plan("https://grasp.example/repo.git", DirectionPush, true)
	require.NoError(t, err)
	assert.Equal(t, []Transport{TransportHTTPSCred}, plan)
}

func TestPlanExplicitSSHSchemeIsSingleAttempt(t *testing.T) {
	plan, err := Plan("ssh://git@example.com/repo.git", DirectionFetch, false)
	require.NoError(t, err)
	assert.Equal(t, []Transport{TransportSSH}, plan)
}

func TestPlanExplicitGitSchemeIsUnauthSingleAttempt(t *testing.T) {
	plan, err := Plan("git://example.com/repo.git", DirectionFetch, false)
	require.NoError(t, err)
	assert.Equal(t, []Transport{TransportGitUnauth}, plan)
}

func TestDispatchFallsThroughToSecondTransport(t *testing.T) {
	client := &fakeClient{succeedOn: map[string]bool{
		"https://example.com/repo.git|ssh": true,
	}}
	d := New(client, NewMemoryProtocolStore(), time.Second, zerolog.Nop())

	err := d.Fetch(context.Background(), "origin", []string{"https://example.com/repo.git"}, "")
	require.NoError(t, err)
	require.Len(t, client.calls, 2)
	assert.Equal(t, TransportHTTPSUnauth, client.calls[0].Transport)
	assert.Equal(t, TransportSSH, client.calls[1].Transport)
}

func TestDispatchPersistsAndReusesPreferredTransport(t *testing.T) {
	client := &fakeClient{succeedOn: map[string]bool{
		"https://example.com/repo.git|ssh":        true,
		"https://example.com/repo.git|https-cred": true,
	}}
	store := NewMemoryProtocolStore()
	d := New(client, store, time.Second, zerolog.Nop())

	require.NoError(t, d.Fetch(context.Background(), "origin", []string{"https://example.com/repo.git"}, ""))
	require.Len(t, client.calls, 2) // https unauth fails, ssh succeeds

	client.calls = nil
	require.NoError(t, d.Fetch(context.Background(), "origin", []string{"https://example.com/repo.git"}, ""))
	require.Len(t, client.calls, 1)
	assert.Equal(t, TransportSSH, client.calls[0].Transport)
}

func TestDispatchAllEndpointsFailed(t *testing.T) {
	client := &fakeClient{succeedOn: map[string]bool{}}
	d := New(client, NewMemoryProtocolStore(), time.Second, zerolog.Nop())

	err := d.Fetch(context.Background(), "origin", []string{"https://example.com/repo.git"}, "")
	require.Error(t, err)
	var allFailed *AllEndpointsFailedError
	require.ErrorAs(t, err, &allFailed)
	assert.Equal(t, DirectionFetch, allFailed.Direction)
	assert.Len(t, allFailed.Attempts, 3)
}
