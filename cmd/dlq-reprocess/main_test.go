package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

// deadLetterRecord собирает DLQ-запись того же вида, что формирует
// outbox worker после исчерпания попыток публикации.
func deadLetterRecord(partition int32, offset int64, orderID string) *sarama.ConsumerMessage {
	dlqPayload := map[string]any{
		"outbox_id":      "outbox-1",
		"aggregate_type": "order",
		"aggregate_id":   orderID,
		"event_type":     "order.created",
		"payload": map[string]any{
			"order_id": orderID,
		},
		"publish_error": "timeout",
	}
	envelope := map[string]any{
		"id":             "outbox-1",
		"aggregate_type": "order",
		"aggregate_id":   orderID,
		"event_type":     "order.created",
		"payload":        dlqPayload,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		panic(err)
	}
	return &sarama.ConsumerMessage{Partition: partition, Offset: offset, Value: raw}
}

func newReplayer(opts options, offsets offsetClient, source partitionConsumerSource, producer replayProducer) *replayer {
	return &replayer{opts: opts, offsets: offsets, source: source, producer: producer}
}

func TestParseBrokers(t *testing.T) {
	brokers := parseBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 {
		t.Fatalf("unexpected brokers count: got=%d want=2", len(brokers))
	}
	if brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
}

func TestExtractReplayMessage_OutboxDLQPayload(t *testing.T) {
	got, ok, err := extractReplayMessage(deadLetterRecord(0, 0, "order-1"), "bookcafe.order.events")
	if err != nil {
		t.Fatalf("extractReplayMessage failed: %v", err)
	}
	if !ok {
		t.Fatal("expected replay candidate")
	}
	if got.topic != "bookcafe.order.events" {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "order-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}

	var replay replayEnvelope
	if err := json.Unmarshal(got.value, &replay); err != nil {
		t.Fatalf("decode replay envelope: %v", err)
	}
	if replay.EventType != "order.created" {
		t.Fatalf("unexpected event type: %s", replay.EventType)
	}
	if replay.AggregateID != "order-1" {
		t.Fatalf("unexpected aggregate id: %s", replay.AggregateID)
	}
	if replay.PublishedAt.IsZero() {
		t.Fatal("expected published_at to be set")
	}
}

func TestExtractReplayMessage_MissingNestedPayload(t *testing.T) {
	envelope := map[string]any{
		"id":             "outbox-1",
		"aggregate_type": "order",
		"aggregate_id":   "order-1",
		"event_type":     "order.created",
		"payload": map[string]any{
			"outbox_id":      "outbox-1",
			"aggregate_type": "order",
			"aggregate_id":   "order-1",
			"event_type":     "order.created",
		},
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}

	_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, "bookcafe.order.events")
	if err == nil {
		t.Fatal("expected error for missing nested payload")
	}
	if ok {
		t.Fatal("expected no replay candidate")
	}
}

func TestExtractReplayMessage_UnknownPayload(t *testing.T) {
	_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(`{"foo":"bar"}`)}, "bookcafe.order.events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected message to be skipped")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "x", "y"); got != "x" {
		t.Fatalf("unexpected first non-empty value: %q", got)
	}
	if got := firstNonEmpty("", " "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestReadOptions_FromFlags(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-source-topic=bookcafe.dlq",
		"-target-topic=bookcafe.order.events",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func() {
		opts, err := readOptions()
		if err != nil {
			t.Fatalf("readOptions failed: %v", err)
		}
		if len(opts.brokers) != 2 {
			t.Fatalf("unexpected brokers count: %d", len(opts.brokers))
		}
		if opts.limit != 10 {
			t.Fatalf("unexpected limit: %d", opts.limit)
		}
		if !opts.execute || !opts.fromNewest {
			t.Fatalf("unexpected flags: execute=%v fromNewest=%v", opts.execute, opts.fromNewest)
		}
		if opts.idleTimeout != 3*time.Second {
			t.Fatalf("unexpected idle-timeout: %s", opts.idleTimeout)
		}
	})
}

func TestReadOptions_ValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "no brokers",
			args:    []string{"-brokers="},
			wantErr: "kafka brokers are required",
		},
		{
			name:    "no source topic",
			args:    []string{"-brokers=broker:9092", "-source-topic="},
			wantErr: "source-topic is required",
		},
		{
			name:    "no target topic",
			args:    []string{"-brokers=broker:9092", "-target-topic="},
			wantErr: "target-topic is required",
		},
		{
			name:    "zero limit",
			args:    []string{"-brokers=broker:9092", "-limit=0"},
			wantErr: "limit must be > 0",
		},
		{
			name:    "zero idle timeout",
			args:    []string{"-brokers=broker:9092", "-idle-timeout=0s"},
			wantErr: "idle-timeout must be > 0",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withFlagArgs(t, tc.args, func() {
				_, err := readOptions()
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got: %v", tc.wantErr, err)
				}
			})
		})
	}
}

func TestPublishReplay(t *testing.T) {
	if err := publishReplay(nil, replayMessage{}); err == nil {
		t.Fatal("expected error for nil producer")
	}

	producer := &fakePublisher{}
	err := publishReplay(producer, replayMessage{topic: "topic", key: "key", value: []byte(`{"x":1}`)})
	if err != nil {
		t.Fatalf("publishReplay failed: %v", err)
	}
	if producer.calls != 1 {
		t.Fatalf("unexpected producer calls: %d", producer.calls)
	}
	if producer.lastMsg == nil || producer.lastMsg.Topic != "topic" {
		t.Fatalf("unexpected last message: %+v", producer.lastMsg)
	}

	producer.sendErr = errors.New("send failed")
	if err := publishReplay(producer, replayMessage{topic: "topic"}); err == nil {
		t.Fatal("expected publishReplay error")
	}
}

func TestProcessPartition_DryRun(t *testing.T) {
	offsets := &fakeOffsets{
		partitions: []int32{0},
		ranges:     map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	source := &fakeSource{
		consumers: map[int32]partitionConsumer{
			0: preloadedConsumer(deadLetterRecord(0, 0, "order-1")),
		},
	}
	opts := options{
		sourceTopic: "bookcafe.dlq",
		targetTopic: "bookcafe.order.events",
		idleTimeout: 20 * time.Millisecond,
	}

	stats, err := newReplayer(opts, offsets, source, nil).processPartition(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.scanned != 1 || stats.requeued != 1 || stats.skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(source.calls) != 1 || source.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", source.calls)
	}
}

func TestProcessPartition_Execute(t *testing.T) {
	offsets := &fakeOffsets{ranges: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	source := &fakeSource{
		consumers: map[int32]partitionConsumer{
			0: preloadedConsumer(deadLetterRecord(0, 0, "order-1")),
		},
	}
	producer := &fakePublisher{}
	opts := options{sourceTopic: "bookcafe.dlq", targetTopic: "bookcafe.order.events", execute: true, idleTimeout: 20 * time.Millisecond}

	stats, err := newReplayer(opts, offsets, source, producer).processPartition(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.requeued != 1 {
		t.Fatalf("expected requeued=1, got %+v", stats)
	}
	if producer.calls != 1 {
		t.Fatalf("expected one producer call, got %d", producer.calls)
	}
}

func TestProcessPartition_ErrorBranches(t *testing.T) {
	opts := options{sourceTopic: "bookcafe.dlq", targetTopic: "bookcafe.order.events", execute: true, idleTimeout: 20 * time.Millisecond}

	badOffsets := &fakeOffsets{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := newReplayer(opts, badOffsets, &fakeSource{}, &fakePublisher{}).processPartition(context.Background(), 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	offsets := &fakeOffsets{ranges: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	badSource := &fakeSource{consumeErr: errors.New("consume")}
	if _, err := newReplayer(opts, offsets, badSource, &fakePublisher{}).processPartition(context.Background(), 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	erroring := &fakeConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	erroring.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	close(erroring.errors)
	source := &fakeSource{consumers: map[int32]partitionConsumer{0: erroring}}
	if _, err := newReplayer(opts, offsets, source, &fakePublisher{}).processPartition(context.Background(), 0, 1); err == nil {
		t.Fatal("expected consumer error branch")
	}
	close(erroring.messages)

	badPayload := preloadedConsumer(&sarama.ConsumerMessage{
		Partition: 0,
		Offset:    0,
		Value:     []byte(`{"id":"x","payload":"not-an-object"}`),
	})
	source = &fakeSource{consumers: map[int32]partitionConsumer{0: badPayload}}
	stats, err := newReplayer(opts, offsets, source, &fakePublisher{}).processPartition(context.Background(), 0, 1)
	if err != nil {
		t.Fatalf("unexpected bad-payload error: %v", err)
	}
	if stats.skipped != 1 {
		t.Fatalf("expected skipped=1, got %+v", stats)
	}

	source = &fakeSource{consumers: map[int32]partitionConsumer{0: preloadedConsumer(deadLetterRecord(0, 0, "order-1"))}}
	failing := &fakePublisher{sendErr: errors.New("send fail")}
	if _, err := newReplayer(opts, offsets, source, failing).processPartition(context.Background(), 0, 1); err == nil {
		t.Fatal("expected producer send error")
	}
}

func TestProcessPartition_IdleTimeoutAndContext(t *testing.T) {
	offsets := &fakeOffsets{ranges: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	opts := options{sourceTopic: "bookcafe.dlq", targetTopic: "bookcafe.order.events", idleTimeout: 10 * time.Millisecond}

	silent := &fakeConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	source := &fakeSource{consumers: map[int32]partitionConsumer{0: silent}}

	stats, err := newReplayer(opts, offsets, source, nil).processPartition(context.Background(), 0, 1)
	if err != nil {
		t.Fatalf("unexpected idle-timeout error: %v", err)
	}
	if stats.scanned != 0 {
		t.Fatalf("expected scanned=0, got %+v", stats)
	}
	close(silent.messages)
	close(silent.errors)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hanging := &fakeConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	source = &fakeSource{consumers: map[int32]partitionConsumer{0: hanging}}
	if _, err := newReplayer(opts, offsets, source, nil).processPartition(ctx, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	close(hanging.messages)
	close(hanging.errors)
}

func TestReplayerRun(t *testing.T) {
	opts := options{sourceTopic: "bookcafe.dlq", targetTopic: "bookcafe.order.events", limit: 1, idleTimeout: 20 * time.Millisecond}

	if err := newReplayer(opts, nil, nil, nil).run(context.Background()); err == nil {
		t.Fatal("expected missing deps error")
	}

	offsets := &fakeOffsets{
		partitions: []int32{2, 0},
		ranges: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	source := &fakeSource{
		consumers: map[int32]partitionConsumer{
			0: preloadedConsumer(deadLetterRecord(0, 0, "order-1")),
			2: preloadedConsumer(deadLetterRecord(2, 0, "order-2")),
		},
	}

	if err := newReplayer(opts, offsets, source, nil).run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(source.calls) != 1 {
		t.Fatalf("expected one partition due limit=1, got calls=%d", len(source.calls))
	}
	if source.calls[0].partition != 0 {
		t.Fatalf("expected first sorted partition=0, got %d", source.calls[0].partition)
	}

	executeOpts := opts
	executeOpts.execute = true
	if err := newReplayer(executeOpts, offsets, source, nil).run(context.Background()); err == nil {
		t.Fatal("expected execute mode to require producer")
	}

	empty := &fakeOffsets{partitions: nil}
	if err := newReplayer(opts, empty, source, nil).run(context.Background()); err != nil {
		t.Fatalf("expected nil error for empty partitions, got %v", err)
	}
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	opts := options{sourceTopic: "bookcafe.dlq", targetTopic: "bookcafe.order.events", limit: 1, idleTimeout: 20 * time.Millisecond}

	newReplayDependencies = func(options) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), opts); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	offsets := &fakeOffsets{
		partitions: []int32{0},
		ranges:     map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	source := &fakeSource{
		consumers: map[int32]partitionConsumer{
			0: preloadedConsumer(deadLetterRecord(0, 0, "order-1")),
		},
	}
	producer := &fakePublisher{}

	newReplayDependencies = func(options) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return offsets, source, producer, nil
	}
	if err := run(context.Background(), opts); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !offsets.closed || !source.closed || !producer.closed {
		t.Fatalf("expected all deps to be closed: offsets=%v source=%v producer=%v", offsets.closed, source.closed, producer.closed)
	}
}

func TestMain_SuccessWithStubbedDeps(t *testing.T) {
	oldDeps := newReplayDependencies
	oldArgs := os.Args
	oldCommandLine := flag.CommandLine
	defer func() {
		newReplayDependencies = oldDeps
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	offsets := &fakeOffsets{
		partitions: []int32{0},
		ranges:     map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	source := &fakeSource{
		consumers: map[int32]partitionConsumer{
			0: preloadedConsumer(deadLetterRecord(0, 0, "order-1")),
		},
	}
	newReplayDependencies = func(options) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return offsets, source, nil, nil
	}

	os.Args = []string{"dlq-reprocess", "-brokers=broker:9092", "-source-topic=bookcafe.dlq", "-target-topic=bookcafe.order.events", "-limit=1", "-idle-timeout=50ms"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	main()
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"dlq-reprocess"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

type offsetRange struct {
	oldest int64
	newest int64
}

type fakeOffsets struct {
	partitions    []int32
	partitionsErr error
	ranges        map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (f *fakeOffsets) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := f.offsetErr[partition]; ok {
		return 0, err
	}

	r := f.ranges[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (f *fakeOffsets) Partitions(string) ([]int32, error) {
	if f.partitionsErr != nil {
		return nil, f.partitionsErr
	}
	return append([]int32(nil), f.partitions...), nil
}

func (f *fakeOffsets) Close() error {
	f.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type fakeSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (f *fakeSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	f.calls = append(f.calls, consumeCall{partition: partition, offset: offset})
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	pc, ok := f.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type fakeConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (f *fakeConsumer) Messages() <-chan *sarama.ConsumerMessage { return f.messages }
func (f *fakeConsumer) Errors() <-chan *sarama.ConsumerError     { return f.errors }
func (f *fakeConsumer) Close() error {
	f.closed = true
	return nil
}

// preloadedConsumer отдаёт заранее записанные сообщения и закрытые каналы.
func preloadedConsumer(messages ...*sarama.ConsumerMessage) *fakeConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)

	errCh := make(chan *sarama.ConsumerError)
	close(errCh)

	return &fakeConsumer{messages: msgCh, errors: errCh}
}

type fakePublisher struct {
	sendErr error
	calls   int
	closed  bool
	lastMsg *sarama.ProducerMessage
}

func (f *fakePublisher) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	f.calls++
	f.lastMsg = msg
	if f.sendErr != nil {
		return 0, 0, f.sendErr
	}
	return 0, int64(f.calls), nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}
