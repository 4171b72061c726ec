package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// 文档路径约定沿用"集合/文档"交替的层级：
//   rooms/<key>                -> 房间文档
//   rooms/<key>/players        -> 成员集合
//   rooms/<key>/players/<id>   -> 成员文档
// 偶数段为文档路径，奇数段为集合路径。

// ErrNotFound 文档不存在
var ErrNotFound = errors.New("文档不存在")

// Document 集合遍历时返回的一条文档
type Document struct {
	ID   string
	Data map[string]interface{}
}

// Unsubscribe 取消订阅句柄
type Unsubscribe func()

// DocumentHandler 单文档订阅回调，exists为false表示文档已被删除或尚不存在
type DocumentHandler func(data map[string]interface{}, exists bool)

// CollectionHandler 集合订阅回调，每次投递集合的完整当前内容
type CollectionHandler func(docs []Document)

// Store 共享文档存储的抽象接口。
// 所有跨客户端共享的状态只通过它读写，订阅回调先投递当前值、之后每次变化再投递，
// 写入方自己也会收到回声通知，本地状态一律从通知重算。
type Store interface {
	// GetDocument 点读文档，不存在时返回ErrNotFound
	GetDocument(ctx context.Context, path string) (map[string]interface{}, error)

	// SetDocument 写入文档；merge为true时与已有字段合并，否则整体覆盖
	SetDocument(ctx context.Context, path string, data map[string]interface{}, merge bool) error

	// UpdateDocument 部分更新，要求文档已存在
	UpdateDocument(ctx context.Context, path string, partial map[string]interface{}) error

	// DeleteDocument 删除文档，文档不存在时视为成功
	DeleteDocument(ctx context.Context, path string) error

	// ListCollection 列出集合下全部文档，顺序无意义
	ListCollection(ctx context.Context, path string) ([]Document, error)

	// SubscribeDocument 订阅单文档变化
	SubscribeDocument(ctx context.Context, path string, handler DocumentHandler) (Unsubscribe, error)

	// SubscribeCollection 订阅集合变化
	SubscribeCollection(ctx context.Context, path string, handler CollectionHandler) (Unsubscribe, error)

	// ServerTimestamp 存储侧时钟，避免依赖各客户端本地时钟
	ServerTimestamp(ctx context.Context) (time.Time, error)

	// Close 关闭存储连接，所有订阅随之失效
	Close() error
}

// ParentCollection 返回文档路径所属的集合路径
func ParentCollection(docPath string) string {
	i := strings.LastIndex(docPath, "/")
	if i < 0 {
		return ""
	}
	return docPath[:i]
}

// DocumentID 返回文档路径的最后一段
func DocumentID(docPath string) string {
	i := strings.LastIndex(docPath, "/")
	return docPath[i+1:]
}
