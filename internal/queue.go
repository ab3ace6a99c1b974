package internal

import (
	apperrors "github.com/koopa0/system-design/14-tank-arena/pkg/errors"
)

// MatchQueue 等待配對的連線 FIFO 佇列
//
// 不變量：同一個 connID 任何時刻最多出現一次。
// 佇列只由事件迴圈存取；若移到真正並行的環境，需要自己的鎖。
type MatchQueue struct {
	entries []string
	index   map[string]struct{}
}

// NewMatchQueue 創建配對佇列
func NewMatchQueue() *MatchQueue {
	return &MatchQueue{
		index: make(map[string]struct{}),
	}
}

// Enqueue 加入佇列，返回加入後的長度
func (q *MatchQueue) Enqueue(connID string) (int, error) {
	if _, exists := q.index[connID]; exists {
		return len(q.entries), apperrors.ErrAlreadyQueued
	}
	q.entries = append(q.entries, connID)
	q.index[connID] = struct{}{}
	return len(q.entries), nil
}

// DequeuePair 取出最早的兩個連線；不足兩個時不取出任何連線
func (q *MatchQueue) DequeuePair() (first, second string, ok bool) {
	if len(q.entries) < 2 {
		return "", "", false
	}
	first, second = q.entries[0], q.entries[1]
	q.entries[0], q.entries[1] = "", ""
	q.entries = q.entries[2:]
	delete(q.index, first)
	delete(q.index, second)
	return first, second, true
}

// Remove 移除連線（冪等）
func (q *MatchQueue) Remove(connID string) bool {
	if _, exists := q.index[connID]; !exists {
		return false
	}
	delete(q.index, connID)
	for i, id := range q.entries {
		if id == connID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	return true
}

// Contains 檢查連線是否在佇列中
func (q *MatchQueue) Contains(connID string) bool {
	_, exists := q.index[connID]
	return exists
}

// Len 佇列長度
func (q *MatchQueue) Len() int {
	return len(q.entries)
}

// Clear 清空佇列，返回移除的數量
func (q *MatchQueue) Clear() int {
	n := len(q.entries)
	q.entries = nil
	q.index = make(map[string]struct{})
	return n
}
