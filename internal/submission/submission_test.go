package submission

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/intake/internal/query"
	"github.com/roach88/intake/internal/signal"
	"github.com/roach88/intake/internal/supervisor"
	"github.com/roach88/intake/internal/testutil"
	"github.com/roach88/intake/internal/voucher"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const body = `{
  "version": "home-assistant:1",
  "home_assistant": "2024.5.0",
  "integrations": {
    "hue": {
      "devices": [
        {
          "entities": [
            {"assumed_state": null, "domain": "light", "entity_category": null, "has_entity_name": true, "original_device_class": null, "unit_of_measurement": null}
          ],
          "entry_type": null, "has_configuration_url": true, "hw_version": null,
          "manufacturer": "Signify", "model_id": "BSB002", "model": "Hue Bridge",
          "sw_version": "1.65.1", "via_device": null
        },
        {"manufacturer": "broken"},
        {
          "entities": [],
          "entry_type": null, "has_configuration_url": false, "hw_version": null,
          "manufacturer": "Signify", "model_id": "LCT015", "model": "Hue color lamp",
          "sw_version": 1.5, "via_device": ["hue", 0]
        }
      ],
      "entities": [
        {"assumed_state": false, "domain": "sensor", "entity_category": "diagnostic", "has_entity_name": false, "original_device_class": "temperature", "unit_of_measurement": "°C"}
      ],
      "is_custom_integration": false
    }
  }
}`

type recorder struct {
	mu   sync.Mutex
	sent []signal.Event
}

func (r *recorder) Supported(ev signal.Event) bool { return ev.Kind == signal.KindSubmission }

func (r *recorder) Send(_ context.Context, ev signal.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, ev)
	return nil
}

type fixture struct {
	svc   *Service
	sup   *supervisor.Supervisor
	codec *voucher.Codec
	sent  *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sup, err := supervisor.Spawn(context.Background(), testutil.MigratedDatabase(t),
		supervisor.WithWorkers(query.Default, 2))
	require.NoError(t, err)
	t.Cleanup(func() { sup.Despawn() })

	codec := voucher.NewCodec([]byte("submission-test-key"), voucher.WithClock(testclock.NewClock(epoch)))
	sent := &recorder{}
	svc, err := NewService(sup, codec,
		WithIDGenerator(testutil.NewSequentialIDs().New),
		WithSignal(signal.New(sent)))
	require.NoError(t, err)

	return &fixture{svc: svc, sup: sup, codec: codec, sent: sent}
}

func (f *fixture) create(t *testing.T) *Handle {
	t.Helper()
	v, err := f.svc.Initial()
	require.NoError(t, err)
	h, err := f.svc.Create(context.Background(), v, "2024.5.0")
	require.NoError(t, err)
	return h
}

func (f *fixture) devices(t *testing.T, id uuid.UUID) []StoredDevice {
	t.Helper()
	var out []StoredDevice
	for d, err := range f.svc.Devices(context.Background(), id) {
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func lamp() Device {
	return Device{
		Manufacturer: ptr("Signify"),
		Model:        ptr("Hue color lamp"),
		Entities: []Entity{
			{Domain: "light", HasEntityName: true},
		},
	}
}

func TestVoucherChain(t *testing.T) {
	f := newFixture(t)

	initial, err := f.svc.Initial()
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-7000-8000-000000000001", initial.Payload.ID.String())
	assert.Equal(t, "00000000-0000-7000-8000-000000000002", initial.Payload.Subject.String())

	next, err := f.svc.Subsequent(initial)
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-7000-8000-000000000003", next.Payload.ID.String())
	assert.Equal(t, initial.Payload.Subject, next.Payload.Subject)

	identifier, err := f.svc.Serialize(next)
	require.NoError(t, err)
	resumed, err := f.svc.Resume(identifier)
	require.NoError(t, err)
	assert.Equal(t, next.Payload, resumed.Payload)
}

func TestResumeRejectsForeignVouchers(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Resume("not-a-voucher")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	snapshot, err := voucher.Serialize(f.codec, voucher.Create(voucher.PurposeDatabaseSnapshot, epoch, voucher.None{}))
	require.NoError(t, err)
	_, err = f.svc.Resume(snapshot)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	other := voucher.NewCodec([]byte("other-key"), voucher.WithClock(testclock.NewClock(epoch)))
	forged, err := voucher.Serialize(other, voucher.Create(voucher.PurposeSubmission, epoch,
		Payload{ID: uuid.New(), Subject: uuid.New()}))
	require.NoError(t, err)
	_, err = f.svc.Resume(forged)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestResumeAcceptsOldVouchers(t *testing.T) {
	f := newFixture(t)

	old := voucher.Create(voucher.PurposeSubmission, epoch.Add(-365*24*time.Hour),
		Payload{ID: uuid.New(), Subject: uuid.New()})
	identifier, err := f.svc.Serialize(old)
	require.NoError(t, err)

	resumed, err := f.svc.Resume(identifier)
	require.NoError(t, err)
	assert.Equal(t, old.Payload, resumed.Payload)
}

func TestCreateRejectsReuse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.svc.Initial()
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, v, "2024.5.0")
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, v, "2024.5.0")
	assert.ErrorIs(t, err, ErrReused)

	// The writer survives the conflict.
	require.NoError(t, f.sup.AssertHealthy(ctx))
}

func TestAttachAndFinalize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := f.create(t)

	bridge := Device{Manufacturer: ptr("Signify"), Model: ptr("Hue Bridge"), HasConfigurationURL: true}
	require.NoError(t, f.svc.AttachDevice(ctx, h, "hue", bridge))

	l := lamp()
	l.ViaDevice = &Link{Integration: "hue", Index: 0}
	require.NoError(t, f.svc.AttachDevice(ctx, h, "hue", l))

	require.NoError(t, f.svc.AttachEntity(ctx, h, "sun", Entity{Domain: "sensor"}))

	devices, entities, malformed := h.Counts()
	assert.Equal(t, 2, devices)
	assert.Equal(t, 2, entities)
	assert.Zero(t, malformed)

	sum, err := f.svc.Summary(ctx, h.ID)
	require.NoError(t, err)
	assert.Nil(t, sum.FinalizedAt)

	require.NoError(t, f.svc.Finalize(ctx, h))

	sum, err = f.svc.Summary(ctx, h.ID)
	require.NoError(t, err)
	require.NotNil(t, sum.FinalizedAt)
	assert.Equal(t, epoch, *sum.FinalizedAt)
	assert.Equal(t, epoch, sum.CreatedAt)
	assert.Equal(t, h.Subject, sum.Subject)
	assert.Equal(t, "2024.5.0", sum.HomeAssistant)
	assert.Equal(t, 2, sum.Devices)
	assert.Equal(t, 2, sum.Entities)

	stored := f.devices(t, h.ID)
	require.Len(t, stored, 2)
	assert.Nil(t, stored[0].ViaDeviceID)
	require.NotNil(t, stored[1].ViaDeviceID)
	assert.Equal(t, stored[0].ID, *stored[1].ViaDeviceID)
	assert.Equal(t, 1, stored[1].Entities)
	assert.Len(t, stored[0].Digest, 64)

	require.Len(t, f.sent.sent, 1)
	ev := f.sent.sent[0].Submission
	assert.Equal(t, h.ID.String(), ev.ID)
	assert.Equal(t, 2, ev.Devices)
	assert.Equal(t, 2, ev.Entities)
}

func TestAttachMalformedItems(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := f.create(t)

	bad := lamp()
	bad.Entities[0].Domain = "Not A Domain"
	err := f.svc.AttachDevice(ctx, h, "hue", bad)
	assert.ErrorIs(t, err, ErrMalformedItem)

	err = f.svc.AttachDevice(ctx, h, "hue", Device{ViaDevice: &Link{Integration: "hue", Index: -1}})
	assert.ErrorIs(t, err, ErrMalformedItem)

	err = f.svc.AttachEntity(ctx, h, "hue", Entity{})
	assert.ErrorIs(t, err, ErrMalformedItem)

	require.NoError(t, f.svc.AttachDevice(ctx, h, "hue", lamp()))

	devices, entities, malformed := h.Counts()
	assert.Equal(t, 1, devices)
	assert.Equal(t, 1, entities)
	assert.Equal(t, 3, malformed)

	stored := f.devices(t, h.ID)
	require.Len(t, stored, 1)
	assert.Equal(t, 2, stored[0].Position, "malformed devices keep their position")
}

func TestFinalizeResolvesDanglingLinks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := f.create(t)

	l := lamp()
	l.ViaDevice = &Link{Integration: "zha", Index: 4}
	require.NoError(t, f.svc.AttachDevice(ctx, h, "hue", l))
	require.NoError(t, f.svc.Finalize(ctx, h))

	stored := f.devices(t, h.ID)
	require.Len(t, stored, 1)
	assert.Nil(t, stored[0].ViaDeviceID)
}

func TestFinalizedHandlePanics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := f.create(t)
	require.NoError(t, f.svc.Finalize(ctx, h))

	assert.Panics(t, func() { f.svc.AttachDevice(ctx, h, "hue", lamp()) })
	assert.Panics(t, func() { f.svc.Finalize(ctx, h) })
}

func TestFinalizeDeleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := f.create(t)

	require.NoError(t, f.svc.Delete(ctx, h.ID))
	err := f.svc.Finalize(ctx, h)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.sent.sent)
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := f.create(t)
	require.NoError(t, f.svc.AttachDevice(ctx, h, "hue", lamp()))

	require.NoError(t, f.svc.Delete(ctx, h.ID))
	require.NoError(t, f.svc.Delete(ctx, h.ID), "deleting twice is fine")

	_, err := f.svc.Summary(ctx, h.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	count := query.Define("count-entities", query.One, query.Read, `select count(*) from entity`)
	row, err := f.sup.One(ctx, count.Bind().Tuples())
	require.NoError(t, err)
	assert.Equal(t, query.Tuple{int64(0)}, row)
}

func TestConcurrentAttach(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := f.create(t)

	g, gctx := errgroup.WithContext(ctx)
	for range 20 {
		g.Go(func() error {
			return f.svc.AttachDevice(gctx, h, "hue", lamp())
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, f.svc.Finalize(ctx, h))

	stored := f.devices(t, h.ID)
	require.Len(t, stored, 20)
	for i, d := range stored {
		assert.Equal(t, i, d.Position)
	}
}

func TestCountsDuringAttach(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := f.create(t)

	g, gctx := errgroup.WithContext(ctx)
	for range 10 {
		g.Go(func() error {
			return f.svc.AttachDevice(gctx, h, "hue", lamp())
		})
		g.Go(func() error {
			devices, _, _ := h.Counts()
			if devices < 0 || devices > 10 {
				return fmt.Errorf("devices out of range: %d", devices)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	devices, _, malformed := h.Counts()
	assert.Equal(t, 10, devices)
	assert.Zero(t, malformed)
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := f.create(t)

	require.NoError(t, f.svc.Ingest(ctx, h, strings.NewReader(body)))
	devices, entities, malformed := h.Counts()
	assert.Equal(t, 2, devices)
	assert.Equal(t, 2, entities)
	assert.Equal(t, 1, malformed)

	require.NoError(t, f.svc.Finalize(ctx, h))

	stored := f.devices(t, h.ID)
	require.Len(t, stored, 2)
	assert.Equal(t, 0, stored[0].Position)
	assert.Equal(t, 2, stored[1].Position)
	require.NotNil(t, stored[1].ViaDeviceID)
	assert.Equal(t, stored[0].ID, *stored[1].ViaDeviceID)
	assert.Equal(t, "Hue color lamp", *stored[1].Model)
}

func TestIngestMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `device database`},
		{name: "not an object", body: `[]`},
		{name: "truncated", body: `{"integrations": {"hue": {"devices": [`},
		{name: "wrong version", body: `{"version": "home-assistant:2"}`},
		{name: "devices not a list", body: `{"integrations": {"hue": {"devices": {}}}}`},
		{name: "trailing data", body: `{} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			h := f.create(t)
			err := f.svc.Ingest(context.Background(), h, strings.NewReader(tt.body))
			assert.ErrorIs(t, err, ErrMalformedSubmission)
		})
	}
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	identifier, err := f.svc.Submit(ctx, "", "2024.5.0", strings.NewReader(body))
	require.NoError(t, err)

	first, err := f.svc.Summary(ctx, uuid.MustParse("00000000-0000-7000-8000-000000000001"))
	require.NoError(t, err)
	assert.NotNil(t, first.FinalizedAt)
	assert.Equal(t, 2, first.Devices)

	next, err := f.svc.Resume(identifier)
	require.NoError(t, err)
	assert.Equal(t, first.Subject, next.Payload.Subject)

	_, err = f.svc.Submit(ctx, identifier, "2024.6.0", strings.NewReader(body))
	require.NoError(t, err)
	second, err := f.svc.Summary(ctx, next.Payload.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024.6.0", second.HomeAssistant)

	_, err = f.svc.Submit(ctx, identifier, "2024.6.0", strings.NewReader(body))
	assert.ErrorIs(t, err, ErrReused)
}

func TestSubmitDeletesFailedSubmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Submit(ctx, "", "2024.5.0", strings.NewReader(`{"integrations": [`))
	assert.ErrorIs(t, err, ErrMalformedSubmission)

	_, err = f.svc.Summary(ctx, uuid.MustParse("00000000-0000-7000-8000-000000000001"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.sent.sent)
}

func TestSubmitInvalidIdentifier(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), "garbage", "2024.5.0", strings.NewReader(body))
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}
