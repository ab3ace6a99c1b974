// Package internal 實現坦克對戰的對局伺服器。
//
// 兩名玩家經由配對佇列或房間 ID 進入同一場對局，伺服器轉發移動、射擊與命中，
// 並以固定頻率廣播對局狀態，直到一方基地被摧毀或斷線。
//
// # 事件迴圈
//
// Engine 以單一 goroutine 擁有所有共享狀態：
//   - SessionRegistry：連線與其所在對局
//   - MatchQueue：等待配對的 FIFO 佇列
//   - MatchRegistry：對局表與 waiting → playing → finished 狀態機
//   - Relay：對局中的玩家動作
//
// WebSocket 讀取、tick 與配對排程都轉成迴圈中的命令依序執行，不需要鎖。
//
// # 傳輸
//
// Hub 使用 gorilla/websocket，每條連線一個 readPump 與一個 writePump；
// 訊息為 {"event": "...", "data": ...} 的 JSON 文字幀。
//
// # 對局結果
//
// Reporter 在背景將對局生命週期送往選配的外部系統：
// PostgreSQL 封存（internal/storage）、Redis 排行榜與 NATS 事件（internal/eventbus）。
// 外部系統失敗只記錄日誌，不影響進行中的對局。
package internal
