package benchmarks

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/zoobzio/loupe"
)

type nopRenderer struct{}

func (nopRenderer) Render(context.Context, loupe.Config) (loupe.PreviewResult, error) {
	return loupe.PreviewResult{Title: "bench"}, nil
}

func BenchmarkConfigStore_Set(b *testing.B) {
	store := loupe.NewConfigStore()
	for i := 0; i < 50; i++ {
		store.Set(fmt.Sprintf("field%d", i), "value")
	}
	store.Observe(func(loupe.Config) {})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.Set("field0", "value")
	}
}

func BenchmarkQueryMirror(b *testing.B) {
	cfg := loupe.Config{}
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("field%d", i)
		cfg[id] = loupe.Entry{ID: id, Value: "value"}
	}
	cfg["photo"] = loupe.Entry{ID: "photo", Value: strings.Repeat("x", 64<<10)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		loupe.QueryMirror(cfg, loupe.DefaultQueryLimit)
	}
}

func BenchmarkPreviewEngine_SyncRender(b *testing.B) {
	engine := loupe.NewPreviewEngine(nopRenderer{}, loupe.NewPreviewStore(),
		loupe.NewErrorAggregator(), loupe.NewLoading()).SyncMode()

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		b.Fatalf("Start() error = %v", err)
	}
	cfg := loupe.Config{"name": {ID: "name", Value: "world"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.OnConfigChanged(cfg)
	}
}

func BenchmarkLiveWatcher_DispatchImage(b *testing.B) {
	w := loupe.NewLiveWatcher("ws://bench", loupe.NewChannelDialer(), loupe.NewSchemaStore(),
		loupe.NewPreviewStore(), loupe.NewErrorAggregator())
	frame := []byte(fmt.Sprintf(`{"type":"img","img_type":"webp","message":%q}`,
		base64.StdEncoding.EncodeToString(make([]byte, 32<<10))))

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Dispatch(ctx, frame)
	}
}

func BenchmarkDecodeSchema(b *testing.B) {
	var sb strings.Builder
	sb.WriteString(`{"version":"1","schema":[`)
	for i := 0; i < 20; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, `{"id":"field%d","type":"text","default":"v"}`, i)
	}
	sb.WriteString(`]}`)
	data := []byte(sb.String())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := loupe.DecodeSchema(data); err != nil {
			b.Fatal(err)
		}
	}
}
