package domains

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/deployer/internal/logging"
	"evalgo.org/deployer/internal/storage"
	"evalgo.org/deployer/models"
)

// brokenStore fails saves for one domain.
type brokenStore struct {
	*storage.Memory
	brokenID string
}

func (s *brokenStore) UpdateOrganizationDomain(ctx context.Context, d *models.OrganizationDomain) error {
	if d.ID == s.brokenID {
		return errors.New("write failed")
	}
	return s.Memory.UpdateOrganizationDomain(ctx, d)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	dns := newFakeDNS()

	good := seedDomain(t, mem, "good.com", models.VerificationTXT)
	bad := seedDomain(t, mem, "bad.com", models.VerificationTXT)
	unpublished := seedDomain(t, mem, "unpublished.com", models.VerificationTXT)
	done := seedDomain(t, mem, "done.com", models.VerificationTXT)
	done.VerificationStatus = models.VerificationVerified
	require.NoError(t, mem.UpdateOrganizationDomain(ctx, done))

	dns.setTXT("_deployer-verify.good.com", good.VerificationToken)
	dns.setTXT("_deployer-verify.bad.com", bad.VerificationToken)

	store := &brokenStore{Memory: mem, brokenID: bad.ID}
	v := NewVerifier(store, dns, testDomainsConfig, logging.Discard())
	sweeper := NewSweeper(v, store, time.Hour, logging.Discard())

	report := sweeper.RunOnce(ctx)
	assert.Equal(t, SweepReport{Checked: 3, Verified: 1, Failed: 1, Errors: 1}, report)

	got, err := mem.GetOrganizationDomain(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationVerified, got.VerificationStatus)

	got, err = mem.GetOrganizationDomain(ctx, unpublished.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationFailed, got.VerificationStatus)
}

func TestSweepNothingPending(t *testing.T) {
	mem := storage.NewMemory()
	v := NewVerifier(mem, newFakeDNS(), testDomainsConfig, logging.Discard())

	report := NewSweeper(v, mem, 0, logging.Discard()).RunOnce(context.Background())
	assert.Equal(t, SweepReport{}, report)
}

func TestSweeperStartStop(t *testing.T) {
	mem := storage.NewMemory()
	dns := newFakeDNS()
	d := seedDomain(t, mem, "tick.com", models.VerificationTXT)
	dns.setTXT("_deployer-verify.tick.com", d.VerificationToken)

	v := NewVerifier(mem, dns, testDomainsConfig, logging.Discard())
	sweeper := NewSweeper(v, mem, 10*time.Millisecond, logging.Discard())

	sweeper.Start(context.Background())
	sweeper.Start(context.Background()) // second start is ignored

	assert.Eventually(t, func() bool {
		got, err := mem.GetOrganizationDomain(context.Background(), d.ID)
		return err == nil && got.VerificationStatus == models.VerificationVerified
	}, time.Second, 5*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
}
