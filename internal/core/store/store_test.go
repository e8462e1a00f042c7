// Package store 行情缓存测试
package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"market-data-cache/internal/core/model"
)

// memDurable 测试用内存持久化存储
type memDurable struct {
	mu      sync.Mutex
	rows    map[string]model.MarketData
	inited  bool
	failPut bool
	failGet bool
	failDel bool
	gets    int
	clock   int64
}

func newMemDurable() *memDurable {
	return &memDurable{rows: map[string]model.MarketData{}, inited: true, clock: 1700000000}
}

func (d *memDurable) Init(context.Context) error {
	d.mu.Lock()
	d.inited = true
	d.mu.Unlock()
	return nil
}

func (d *memDurable) Put(_ context.Context, md model.MarketData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inited {
		return ErrStorageUnavailable
	}
	if d.failPut {
		return errors.New("disk full")
	}
	md.LastUpdated = d.clock
	d.rows[md.AssetID] = md
	return nil
}

func (d *memDurable) Get(_ context.Context, assetID string) (model.MarketData, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gets++
	if !d.inited {
		return model.MarketData{}, false, ErrStorageUnavailable
	}
	if d.failGet {
		return model.MarketData{}, false, errors.New("io error")
	}
	md, ok := d.rows[assetID]
	return md, ok, nil
}

func (d *memDurable) Delete(_ context.Context, assetID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inited {
		return false, ErrStorageUnavailable
	}
	if d.failDel {
		return false, errors.New("io error")
	}
	_, ok := d.rows[assetID]
	delete(d.rows, assetID)
	return ok, nil
}

func (d *memDurable) Close() error { return nil }

func (d *memDurable) has(assetID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.rows[assetID]
	return ok
}

// memJournal 测试用变更日志
type memJournal struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (j *memJournal) Write(v any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, v.(model.ChangeEvent))
	return nil
}

func aapl() model.MarketData {
	return model.MarketData{AssetID: "AAPL", SpotPrice: 150.0, RiskFreeRate: 0.02, Volatility: 0.25, DividendYield: 0.0}
}

func TestManager_AddGet(t *testing.T) {
	ctx := context.Background()
	m := New()

	if err := m.Add(ctx, "AAPL", aapl()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, err := m.Get(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.SameValues(aapl()) {
		t.Fatalf("Get=%+v, want %+v", got, aapl())
	}
	if m.Size() != 1 || !m.Has("AAPL") {
		t.Fatalf("Size=%d Has=%v, want 1/true", m.Size(), m.Has("AAPL"))
	}
}

func TestManager_AddUsesKeyAsAssetID(t *testing.T) {
	ctx := context.Background()
	m := New()

	md := aapl()
	md.AssetID = "OTHER"
	if err := m.Add(ctx, "AAPL", md); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, _ := m.Get(ctx, "AAPL")
	if got.AssetID != "AAPL" {
		t.Fatalf("AssetID=%s, want AAPL", got.AssetID)
	}
}

func TestManager_EmptyIDIsInvalidArgument(t *testing.T) {
	ctx := context.Background()
	m := New(WithDurable(newMemDurable()))

	// 空标识先于校验检查：即使记录非法也返回 ErrInvalidArgument
	bad := model.MarketData{SpotPrice: -1}
	if err := m.Add(ctx, "", bad); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Add err=%v, want ErrInvalidArgument", err)
	}
	if err := m.Update(ctx, "", aapl()); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Update err=%v, want ErrInvalidArgument", err)
	}
	if _, err := m.Get(ctx, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Get err=%v, want ErrInvalidArgument", err)
	}
	if err := m.Remove(ctx, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Remove err=%v, want ErrInvalidArgument", err)
	}
}

func TestManager_AddDuplicate(t *testing.T) {
	ctx := context.Background()
	m := New()

	if err := m.Add(ctx, "AAPL", aapl()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	other := aapl()
	other.SpotPrice = 999
	if err := m.Add(ctx, "AAPL", other); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err=%v, want ErrAlreadyExists", err)
	}
	got, _ := m.Get(ctx, "AAPL")
	if got.SpotPrice != 150.0 {
		t.Fatalf("SpotPrice=%f, want 150（原值不变）", got.SpotPrice)
	}
}

func TestManager_ValidationRejectsNegativeSpot(t *testing.T) {
	ctx := context.Background()
	d := newMemDurable()
	m := New(WithDurable(d))

	err := m.Add(ctx, "X", model.MarketData{SpotPrice: -1.0, RiskFreeRate: 0.01, Volatility: 0.2})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("err=%v, want ErrValidation", err)
	}
	if m.Has("X") {
		t.Fatal("Has(X)=true, want false")
	}
	if d.has("X") {
		t.Fatal("非法记录不应写入持久化存储")
	}
}

func TestManager_UpdateValidationKeepsOldValue(t *testing.T) {
	ctx := context.Background()
	m := New()
	_ = m.Add(ctx, "AAPL", aapl())

	bad := aapl()
	bad.Volatility = -0.5
	if err := m.Update(ctx, "AAPL", bad); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("err=%v, want ErrValidation", err)
	}
	got, _ := m.Get(ctx, "AAPL")
	if got.Volatility != 0.25 {
		t.Fatalf("Volatility=%f, want 0.25", got.Volatility)
	}
}

func TestManager_UpdateAndRemoveRequireMemoryPresence(t *testing.T) {
	ctx := context.Background()
	d := newMemDurable()
	_ = d.Put(ctx, aapl())
	m := New(WithDurable(d))

	// 存储中有记录，但内存中没有
	if err := m.Update(ctx, "AAPL", aapl()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update err=%v, want ErrNotFound", err)
	}
	if err := m.Remove(ctx, "AAPL"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove err=%v, want ErrNotFound", err)
	}
	if d.gets != 0 {
		t.Fatalf("Update/Remove 不应读取持久化存储, gets=%d", d.gets)
	}
	if !d.has("AAPL") {
		t.Fatal("存储记录不应被删除")
	}
}

func TestManager_UpdateOverwritesAndMirrors(t *testing.T) {
	ctx := context.Background()
	d := newMemDurable()
	m := New(WithDurable(d))
	_ = m.Add(ctx, "AAPL", aapl())

	upd := aapl()
	upd.SpotPrice = 155
	if err := m.Update(ctx, "AAPL", upd); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := m.Get(ctx, "AAPL")
	if got.SpotPrice != 155 {
		t.Fatalf("SpotPrice=%f, want 155", got.SpotPrice)
	}
	stored, ok, _ := d.Get(ctx, "AAPL")
	if !ok || stored.SpotPrice != 155 {
		t.Fatalf("stored=%+v ok=%v, want SpotPrice 155", stored, ok)
	}
}

func TestManager_LazyLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := newMemDurable()
	m := New(WithDurable(d))

	if err := m.Add(ctx, "AAPL", aapl()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m.Clear()
	if m.Size() != 0 || m.Has("AAPL") {
		t.Fatalf("Clear 后 Size=%d Has=%v", m.Size(), m.Has("AAPL"))
	}

	got, err := m.Get(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.SameValues(aapl()) {
		t.Fatalf("Get=%+v, want %+v", got, aapl())
	}
	if got.LastUpdated != d.clock {
		t.Fatalf("LastUpdated=%d, want %d（由存储打戳）", got.LastUpdated, d.clock)
	}
	if !m.Has("AAPL") || m.Size() != 1 {
		t.Fatal("懒加载后应写回内存")
	}

	// 内存命中后不再读取存储
	before := d.gets
	if _, err := m.Get(ctx, "AAPL"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.gets != before {
		t.Fatalf("内存命中不应访问存储, gets %d -> %d", before, d.gets)
	}

	st := m.Stats()
	if st.LazyLoads != 1 || st.Hits != 1 {
		t.Fatalf("Stats=%+v, want LazyLoads=1 Hits=1", st)
	}
}

func TestManager_RemoveMirrorsDelete(t *testing.T) {
	ctx := context.Background()
	d := newMemDurable()
	m := New(WithDurable(d))

	if err := m.Add(ctx, "AAPL", aapl()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !d.has("AAPL") {
		t.Fatal("Add 应镜像写入存储")
	}
	if err := m.Remove(ctx, "AAPL"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if m.Has("AAPL") {
		t.Fatal("Has(AAPL)=true, want false")
	}
	if _, err := m.Get(ctx, "AAPL"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get err=%v, want ErrNotFound", err)
	}
}

// 同一资产由单一写入方顺序操作时，存储与内存保持一致
func TestManager_SingleWriterKeepsStorageAligned(t *testing.T) {
	ctx := context.Background()
	d := newMemDurable()
	m := New(WithDurable(d))

	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			if err := m.Add(ctx, "AAPL", aapl()); err != nil {
				t.Fatalf("Add #%d: %v", i, err)
			}
		} else if err := m.Remove(ctx, "AAPL"); err != nil {
			t.Fatalf("Remove #%d: %v", i, err)
		}
		if m.Has("AAPL") != d.has("AAPL") {
			t.Fatalf("第 %d 步后内存=%v 存储=%v", i, m.Has("AAPL"), d.has("AAPL"))
		}
	}
}

func TestManager_ClearWithoutDurable(t *testing.T) {
	ctx := context.Background()
	m := New()
	_ = m.Add(ctx, "AAPL", aapl())
	m.Clear()

	if _, err := m.Get(ctx, "AAPL"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestManager_MirrorFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	d := newMemDurable()
	d.failPut = true
	d.failDel = true
	m := New(WithDurable(d))

	if err := m.Add(ctx, "AAPL", aapl()); err != nil {
		t.Fatalf("Add err=%v, want nil（镜像失败不影响结果）", err)
	}
	if !m.Has("AAPL") {
		t.Fatal("内存插入不应回滚")
	}
	if err := m.Remove(ctx, "AAPL"); err != nil {
		t.Fatalf("Remove err=%v, want nil", err)
	}
	if got := m.Stats().MirrorFailures; got != 2 {
		t.Fatalf("MirrorFailures=%d, want 2", got)
	}
}

func TestManager_StorageReadErrorFoldsIntoNotFound(t *testing.T) {
	ctx := context.Background()
	d := newMemDurable()
	_ = d.Put(ctx, aapl())
	d.failGet = true
	m := New(WithDurable(d))

	if _, err := m.Get(ctx, "AAPL"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	if m.Has("AAPL") {
		t.Fatal("读取失败不应写入内存")
	}
}

func TestManager_InvalidStoredRecordIsIgnored(t *testing.T) {
	ctx := context.Background()
	d := newMemDurable()
	d.rows["BAD"] = model.MarketData{AssetID: "BAD", SpotPrice: -5}
	m := New(WithDurable(d))

	if _, err := m.Get(ctx, "BAD"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestManager_SetDurableDetach(t *testing.T) {
	ctx := context.Background()
	d := newMemDurable()
	m := New(WithDurable(d))
	_ = m.Add(ctx, "AAPL", aapl())

	m.SetDurable(nil)
	m.Clear()
	if _, err := m.Get(ctx, "AAPL"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("卸下存储后 err=%v, want ErrNotFound", err)
	}
	if err := m.Add(ctx, "MSFT", model.MarketData{SpotPrice: 300, Volatility: 0.2}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if d.has("MSFT") {
		t.Fatal("卸下存储后不应镜像写入")
	}

	m.SetDurable(d)
	if _, err := m.Get(ctx, "AAPL"); err != nil {
		t.Fatalf("重新挂接后 Get: %v", err)
	}
}

func TestManager_HasDoesNotConsultDurable(t *testing.T) {
	ctx := context.Background()
	d := newMemDurable()
	_ = d.Put(ctx, aapl())
	m := New(WithDurable(d))

	var p Presence = m
	var r Resolver = m
	if p.Has("AAPL") {
		t.Fatal("Has 只看内存，应为 false")
	}
	if _, err := r.Get(ctx, "AAPL"); err != nil {
		t.Fatalf("Get 应懒加载成功: %v", err)
	}
	if !p.Has("AAPL") {
		t.Fatal("懒加载后 Has 应为 true")
	}
}

func TestManager_ListIsSnapshot(t *testing.T) {
	ctx := context.Background()
	m := New()
	_ = m.Add(ctx, "AAPL", aapl())

	snap := m.List()
	snap["AAPL"] = model.MarketData{AssetID: "AAPL", SpotPrice: 1}
	snap["NEW"] = model.MarketData{AssetID: "NEW"}

	got, _ := m.Get(ctx, "AAPL")
	if got.SpotPrice != 150 {
		t.Fatalf("修改快照影响了内部状态: %+v", got)
	}
	if m.Size() != 1 {
		t.Fatalf("Size=%d, want 1", m.Size())
	}
}

func TestManager_Upsert(t *testing.T) {
	ctx := context.Background()
	m := New()

	if err := m.Upsert(ctx, "AAPL", aapl()); err != nil {
		t.Fatalf("Upsert(add): %v", err)
	}
	upd := aapl()
	upd.SpotPrice = 151
	if err := m.Upsert(ctx, "AAPL", upd); err != nil {
		t.Fatalf("Upsert(update): %v", err)
	}
	got, _ := m.Get(ctx, "AAPL")
	if got.SpotPrice != 151 || m.Size() != 1 {
		t.Fatalf("got=%+v size=%d", got, m.Size())
	}
	bad := aapl()
	bad.SpotPrice = -1
	if err := m.Upsert(ctx, "AAPL", bad); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("err=%v, want ErrValidation", err)
	}
}

func TestManager_JournalEvents(t *testing.T) {
	ctx := context.Background()
	j := &memJournal{}
	m := New(WithDurable(newMemDurable()), WithJournal(j))

	_ = m.Add(ctx, "AAPL", aapl())
	_ = m.Add(ctx, "AAPL", aapl()) // 失败，不记录
	_ = m.Update(ctx, "AAPL", aapl())
	m.Clear()
	_, _ = m.Get(ctx, "AAPL")
	_ = m.Remove(ctx, "AAPL")

	want := []model.ChangeOp{model.OpAdd, model.OpUpdate, model.OpClear, model.OpLoad, model.OpRemove}
	if len(j.events) != len(want) {
		t.Fatalf("events=%d, want %d", len(j.events), len(want))
	}
	for i, op := range want {
		if j.events[i].Op != op {
			t.Errorf("events[%d].Op=%s, want %s", i, j.events[i].Op, op)
		}
	}
	if j.events[0].Record == nil || j.events[0].Record.SpotPrice != 150 {
		t.Errorf("add 事件缺少记录: %+v", j.events[0])
	}
}

func TestManager_ConcurrentLazyLoad(t *testing.T) {
	ctx := context.Background()
	d := newMemDurable()
	_ = d.Put(ctx, aapl())
	m := New(WithDurable(d))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Get(ctx, "AAPL"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Get: %v", err)
	}
	if m.Size() != 1 {
		t.Fatalf("Size=%d, want 1", m.Size())
	}
}
