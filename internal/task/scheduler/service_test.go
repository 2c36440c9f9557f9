package scheduler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"challengebot/internal/challenge"
	"challengebot/internal/eventbus"
	"challengebot/internal/task/engine"
	logx "challengebot/pkg/logx"
)

var tashkent = time.FixedZone("UZT", 5*60*60)

type harness struct {
	svc    *Service
	trig   *manualTrigger
	sender *stubSender
	disp   *inlineDispatcher
}

// newHarness starts the clock at 2025-01-15 08:00 in Tashkent.
func newHarness(t *testing.T) *harness {
	t.Helper()
	trig := newManualTrigger(time.Date(2025, time.January, 15, 8, 0, 0, 0, tashkent))
	h := &harness{trig: trig, sender: &stubSender{}, disp: &inlineDispatcher{}}
	h.svc = New(Config{DeliveryTimeout: time.Second}, h.disp, h.sender, logx.Nop(), eventbus.New(),
		WithLocation(tashkent), WithClock(trig.Now), withTrigger(trig))
	h.svc.Start()
	return h
}

func (h *harness) day(d, hh, mm int) time.Time {
	return time.Date(2025, time.January, d, hh, mm, 0, 0, tashkent)
}

func rec(id, owner int64, channel, at string) challenge.Schedule {
	return challenge.Schedule{ID: id, OwnerID: owner, ChannelID: channel, TimeOfDay: at, Message: fmt.Sprintf("post %d", id)}
}

func keys(jobs []JobInfo) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Key.String())
	}
	return out
}

func TestRegisterTwiceKeepsOneJobWithLatestPayload(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	first := rec(1, 10, "@ch", "09:30")
	second := rec(1, 10, "@ch", "09:30")
	second.Message = "updated"
	second.WithDate = true

	if err := h.svc.Register(first); err != nil {
		t.Fatalf("Register first: %v", err)
	}
	if err := h.svc.Register(second); err != nil {
		t.Fatalf("Register second: %v", err)
	}

	jobs := h.svc.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if h.trig.Len() != 1 {
		t.Fatalf("armed triggers = %d, want 1", h.trig.Len())
	}
	if jobs[0].Payload.Message != "updated" || !jobs[0].Payload.WithDate {
		t.Fatalf("payload = %+v, want the second registration", jobs[0].Payload)
	}

	h.trig.Advance(h.day(15, 9, 30))
	if got := h.sender.Calls(); got != 1 {
		t.Fatalf("sends = %d, want 1", got)
	}
}

func TestUnregisterUnknownKeyIsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if err := h.svc.Register(rec(1, 10, "@ch", "09:30")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if h.svc.Unregister(10, "@ch", "10:00") {
		t.Fatalf("Unregister(unknown) = true, want false")
	}
	if h.svc.Unregister(99, "@other", "09:30") {
		t.Fatalf("Unregister(unknown owner) = true, want false")
	}
	if got := len(h.svc.Jobs()); got != 1 {
		t.Fatalf("jobs = %d, want 1", got)
	}

	h.trig.Advance(h.day(15, 9, 30))
	if got := h.sender.Calls(); got != 1 {
		t.Fatalf("sends = %d, want 1", got)
	}
}

func TestUnregisterStopsFutureFirings(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_ = h.svc.Register(rec(1, 10, "@ch", "09:30"))
	h.trig.Advance(h.day(15, 9, 30))
	if !h.svc.Unregister(10, "@ch", "09:30") {
		t.Fatalf("Unregister = false, want true")
	}
	h.trig.Advance(h.day(18, 9, 30))

	if got := h.sender.Calls(); got != 1 {
		t.Fatalf("sends = %d, want 1", got)
	}
	if h.trig.Len() != 0 {
		t.Fatalf("armed triggers = %d, want 0", h.trig.Len())
	}
}

func TestCompositeKeyCollision(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_ = h.svc.Register(rec(1, 10, "@ch", "09:30"))
	_ = h.svc.Register(rec(2, 10, "@ch", "09:30"))

	jobs := h.svc.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if jobs[0].Payload.ScheduleID != 2 {
		t.Fatalf("live schedule = %d, want 2", jobs[0].Payload.ScheduleID)
	}

	h.trig.Advance(h.day(15, 9, 30))
	sent := h.sender.Sent()
	if len(sent) != 1 || sent[0].Text != "post 2" {
		t.Fatalf("sent = %+v, want one send of post 2", sent)
	}
}

func TestEndToEndFiresAtConfiguredTime(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	plain := rec(1, 10, "@plain", "09:30")
	plain.Message = "Good morning"
	dated := rec(2, 10, "@dated", "09:30")
	dated.Message = "Keep going"
	dated.WithDate = true
	dated.StartDate = "2025-01-04"
	dated.EndDate = "2025-01-20"

	if err := h.svc.Register(plain); err != nil {
		t.Fatalf("Register plain: %v", err)
	}
	if err := h.svc.Register(dated); err != nil {
		t.Fatalf("Register dated: %v", err)
	}

	h.trig.Advance(h.day(15, 9, 29))
	if got := h.sender.Calls(); got != 0 {
		t.Fatalf("sends before 09:30 = %d, want 0", got)
	}

	h.trig.Advance(h.day(15, 9, 30))
	sent := h.sender.Sent()
	sort.Slice(sent, func(i, j int) bool { return sent[i].ChannelID < sent[j].ChannelID })
	want := []sentMessage{
		{ChannelID: "@dated", Text: "Bugun: 15-yanvar, chorshanba  [ 2025-01-15 ]\nkun: 12\nMaqsadingizga erishish uchun 5 kun qoldi\n\nKeep going"},
		{ChannelID: "@plain", Text: "Good morning"},
	}
	if !reflect.DeepEqual(sent, want) {
		t.Fatalf("sent =\n%+v\nwant\n%+v", sent, want)
	}
}

func TestFiresInConfiguredZone(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_ = h.svc.Register(rec(1, 10, "@ch", "09:30"))
	next := h.svc.Jobs()[0].Next
	want := h.day(15, 9, 30)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	if got := next.UTC().Hour(); got != 4 {
		t.Fatalf("next UTC hour = %d, want 4", got)
	}
}

func TestDeliveryFailureIsIsolated(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.sender.failOn = map[int]bool{1: true}

	_ = h.svc.Register(rec(1, 10, "@a", "09:30"))
	_ = h.svc.Register(rec(2, 10, "@b", "09:30"))

	h.trig.Advance(h.day(15, 9, 30))
	if got := h.sender.Calls(); got != 2 {
		t.Fatalf("day 1 send attempts = %d, want 2", got)
	}
	if got := len(h.sender.Sent()); got != 1 {
		t.Fatalf("day 1 successful sends = %d, want 1", got)
	}
	if got := len(h.svc.Jobs()); got != 2 {
		t.Fatalf("jobs after failure = %d, want 2", got)
	}

	h.trig.Advance(h.day(16, 9, 30))
	if got := len(h.sender.Sent()); got != 3 {
		t.Fatalf("successful sends after day 2 = %d, want 3", got)
	}
	st := h.svc.Snapshot()
	if st.Failed != 1 || st.Sent != 3 || st.Fired != 4 {
		t.Fatalf("stats = %+v, want fired 4, sent 3, failed 1", st)
	}
}

func TestRenderErrorKeepsJobArmed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	bad := rec(1, 10, "@ch", "09:30")
	bad.WithDate = true
	bad.StartDate = "15/01/2025"
	_ = h.svc.Register(bad)

	h.trig.Advance(h.day(17, 9, 30))
	if got := h.sender.Calls(); got != 0 {
		t.Fatalf("sends = %d, want 0", got)
	}
	if got := h.svc.Snapshot().Failed; got != 3 {
		t.Fatalf("failed = %d, want 3", got)
	}
	if got := len(h.svc.Jobs()); got != 1 {
		t.Fatalf("jobs = %d, want 1", got)
	}
}

type panickySender struct{}

func (panickySender) Send(context.Context, string, string) error { panic("transport bug") }

func TestDeliveryPanicIsContained(t *testing.T) {
	t.Parallel()

	trig := newManualTrigger(time.Date(2025, time.January, 15, 8, 0, 0, 0, tashkent))
	svc := New(Config{}, &inlineDispatcher{}, panickySender{}, logx.Nop(), nil,
		WithLocation(tashkent), WithClock(trig.Now), withTrigger(trig))
	_ = svc.Register(rec(1, 10, "@ch", "09:30"))

	trig.Advance(time.Date(2025, time.January, 16, 9, 30, 0, 0, tashkent))
	if got := svc.Snapshot().Failed; got != 2 {
		t.Fatalf("failed = %d, want 2", got)
	}
}

func TestRebuildArmsDistinctKeys(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	recs := []challenge.Schedule{
		rec(1, 10, "@a", "09:30"),
		rec(2, 10, "@a", "21:00"),
		rec(3, 10, "@b", "09:30"),
		rec(4, 11, "@a", "09:30"),
		rec(5, 10, "@a", "09:30"),
	}
	n, err := h.svc.Rebuild(recs)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if n != len(recs) {
		t.Fatalf("registered = %d, want %d", n, len(recs))
	}

	want := map[string]bool{}
	for _, r := range recs {
		want[KeyOf(r).String()] = true
	}
	got := keys(h.svc.Jobs())
	if len(got) != len(want) {
		t.Fatalf("armed keys = %v, want %d distinct", got, len(want))
	}
	for _, k := range got {
		if !want[k] {
			t.Fatalf("unexpected key %q", k)
		}
	}
	if h.trig.Len() != len(want) {
		t.Fatalf("armed triggers = %d, want %d", h.trig.Len(), len(want))
	}
	for _, j := range h.svc.Jobs() {
		if j.Key.ChannelID == "@a" && j.Key.OwnerID == 10 && j.Key.TimeOfDay == "09:30" && j.Payload.ScheduleID != 5 {
			t.Fatalf("collided key kept schedule %d, want last (5)", j.Payload.ScheduleID)
		}
	}
}

func TestRebuildSkipsBadRecords(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	n, err := h.svc.Rebuild([]challenge.Schedule{
		rec(1, 10, "@a", "09:30"),
		rec(2, 10, "@a", "25:00"),
		rec(3, 10, "@b", "07:00"),
	})
	if !errors.Is(err, challenge.ErrInvalidTime) {
		t.Fatalf("Rebuild err = %v, want ErrInvalidTime", err)
	}
	if n != 2 || len(h.svc.Jobs()) != 2 {
		t.Fatalf("registered = %d, jobs = %d; want 2 and 2", n, len(h.svc.Jobs()))
	}
}

func TestStaleTickAfterUnregisterIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_ = h.svc.Register(rec(1, 10, "@ch", "09:30"))
	h.svc.mu.Lock()
	id := h.svc.jobs[JobKey{OwnerID: 10, ChannelID: "@ch", TimeOfDay: "09:30"}].entryID
	h.svc.mu.Unlock()
	tick := h.trig.Job(id)

	h.svc.Unregister(10, "@ch", "09:30")
	tick.Run()

	if got := h.sender.Calls(); got != 0 {
		t.Fatalf("sends = %d, want 0", got)
	}
}

func TestStaleTickAfterReplaceIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_ = h.svc.Register(rec(1, 10, "@ch", "09:30"))
	h.svc.mu.Lock()
	id := h.svc.jobs[JobKey{OwnerID: 10, ChannelID: "@ch", TimeOfDay: "09:30"}].entryID
	h.svc.mu.Unlock()
	oldTick := h.trig.Job(id)

	_ = h.svc.Register(rec(2, 10, "@ch", "09:30"))
	oldTick.Run()
	if got := h.sender.Calls(); got != 0 {
		t.Fatalf("sends from replaced job = %d, want 0", got)
	}
}

func TestEnqueueFailureKeepsJobArmed(t *testing.T) {
	t.Parallel()

	trig := newManualTrigger(time.Date(2025, time.January, 15, 8, 0, 0, 0, tashkent))
	sender := &stubSender{}
	svc := New(Config{}, rejectingDispatcher{}, sender, logx.Nop(), nil,
		WithLocation(tashkent), WithClock(trig.Now), withTrigger(trig))
	_ = svc.Register(rec(1, 10, "@ch", "09:30"))

	trig.Advance(time.Date(2025, time.January, 16, 9, 30, 0, 0, tashkent))
	st := svc.Snapshot()
	if st.EnqueueErrors != 2 || st.Jobs != 1 {
		t.Fatalf("stats = %+v, want 2 enqueue errors and 1 job", st)
	}
	if sender.Calls() != 0 {
		t.Fatalf("sends = %d, want 0", sender.Calls())
	}
}

func TestEnqueueWarnStateFollowsJobs(t *testing.T) {
	t.Parallel()

	trig := newManualTrigger(time.Date(2025, time.January, 15, 8, 0, 0, 0, tashkent))
	svc := New(Config{}, rejectingDispatcher{}, &stubSender{}, logx.Nop(), nil,
		WithLocation(tashkent), WithClock(trig.Now), withTrigger(trig))
	_ = svc.Register(rec(1, 10, "@a", "09:30"))
	_ = svc.Register(rec(2, 10, "@b", "10:00"))

	trig.Advance(time.Date(2025, time.January, 15, 10, 0, 0, 0, tashkent))

	keyA := JobKey{OwnerID: 10, ChannelID: "@a", TimeOfDay: "09:30"}
	svc.enqMu.Lock()
	last, tracked := svc.lastEnqWarn[keyA], len(svc.lastEnqWarn)
	svc.enqMu.Unlock()
	if want := time.Date(2025, time.January, 15, 9, 30, 0, 0, tashkent); !last.Equal(want) {
		t.Fatalf("last warn for %s = %v, want %v", keyA, last, want)
	}
	if tracked != 2 {
		t.Fatalf("tracked keys = %d, want 2", tracked)
	}

	svc.Unregister(10, "@a", "09:30")
	svc.enqMu.Lock()
	_, stillA := svc.lastEnqWarn[keyA]
	tracked = len(svc.lastEnqWarn)
	svc.enqMu.Unlock()
	if stillA || tracked != 1 {
		t.Fatalf("after Unregister: key kept = %v, tracked = %d, want false and 1", stillA, tracked)
	}

	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	svc.enqMu.Lock()
	tracked = len(svc.lastEnqWarn)
	svc.enqMu.Unlock()
	if tracked != 0 {
		t.Fatalf("after Shutdown: tracked keys = %d, want 0", tracked)
	}
}

func TestRegisterRejectsBadTime(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if err := h.svc.Register(rec(1, 10, "@ch", "9.30")); !errors.Is(err, challenge.ErrInvalidTime) {
		t.Fatalf("Register err = %v, want ErrInvalidTime", err)
	}
	if len(h.svc.Jobs()) != 0 {
		t.Fatalf("a job was armed for a bad time")
	}
}

func TestShutdownDisarmsEverything(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_ = h.svc.Register(rec(1, 10, "@a", "09:30"))
	_ = h.svc.Register(rec(2, 10, "@b", "10:30"))

	if err := h.svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(h.svc.Jobs()) != 0 || h.trig.Len() != 0 {
		t.Fatalf("jobs = %d, triggers = %d after shutdown", len(h.svc.Jobs()), h.trig.Len())
	}
	if !h.trig.stopped {
		t.Fatalf("trigger engine not stopped")
	}
	if err := h.svc.Register(rec(3, 10, "@c", "11:00")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Register after shutdown err = %v, want ErrStopped", err)
	}
	if err := h.svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestConcurrentRegisterUnregisterLeavesNoOrphans(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = h.svc.Register(rec(int64(i), 10, "@ch", "09:30"))
		}(i)
		go func() {
			defer wg.Done()
			h.svc.Unregister(10, "@ch", "09:30")
		}()
	}
	wg.Wait()

	if got, armed := len(h.svc.Jobs()), h.trig.Len(); got != armed || got > 1 {
		t.Fatalf("jobs = %d, armed triggers = %d; want equal and at most 1", got, armed)
	}
}

func TestSlowDeliveryDoesNotBlockOtherJobs(t *testing.T) {
	t.Parallel()

	pool := engine.New(engine.Config{Workers: 2, QueueSize: 8}, logx.Nop(), nil)
	pool.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pool.Stop(ctx)
	})

	trig := newManualTrigger(time.Date(2025, time.January, 15, 8, 0, 0, 0, tashkent))
	sender := &stubSender{block: map[string]bool{"@slow": true}, notify: make(chan sentMessage, 4)}
	svc := New(Config{DeliveryTimeout: 100 * time.Millisecond}, pool, sender, logx.Nop(), nil,
		WithLocation(tashkent), WithClock(trig.Now), withTrigger(trig))
	_ = svc.Register(rec(1, 10, "@slow", "09:30"))
	_ = svc.Register(rec(2, 10, "@fast", "09:30"))

	done := make(chan struct{})
	go func() {
		trig.Advance(time.Date(2025, time.January, 16, 9, 30, 0, 0, tashkent))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("ticks blocked on a hanging delivery")
	}

	for day := 0; day < 2; day++ {
		select {
		case m := <-sender.notify:
			if m.ChannelID != "@fast" {
				t.Fatalf("unexpected delivery to %s", m.ChannelID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("fast delivery %d never arrived", day+1)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for svc.Snapshot().Failed < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("slow deliveries not timed out: %+v", svc.Snapshot())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
