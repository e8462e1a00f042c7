package model

// ChangeOp 缓存变更类型
type ChangeOp string

const (
	// OpAdd 新增
	OpAdd ChangeOp = "add"
	// OpUpdate 覆盖更新
	OpUpdate ChangeOp = "update"
	// OpRemove 删除
	OpRemove ChangeOp = "remove"
	// OpLoad 未命中后从持久化存储懒加载
	OpLoad ChangeOp = "load"
	// OpClear 清空内存
	OpClear ChangeOp = "clear"
)

// ChangeEvent 缓存变更事件
// 仅在 Manager 操作成功后产生，用于 JSONL 变更日志。
type ChangeEvent struct {
	// Op 变更类型
	Op ChangeOp `json:"op"`
	// AssetID 资产标识（clear 时为空）
	AssetID string `json:"asset_id,omitempty"`
	// Record 变更后的记录（remove/clear 时为空）
	Record *MarketData `json:"record,omitempty"`
	// TsUnixNs 事件时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
}
