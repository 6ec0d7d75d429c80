// internal/retrieval/index.go
package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrUnavailable 表示指定语料没有可用索引
//
// 这是预期内的非致命状态，调用方应降级而不是报错。
var ErrUnavailable = errors.New("retrieval index unavailable")

// Chunk 表示索引中的一个内容块
type Chunk struct {
	ID         int64     `json:"id"`
	CorpusID   string    `json:"corpus_id"`
	SectionID  string    `json:"section_id"`
	Content    string    `json:"content"`
	Similarity float64   `json:"similarity"` // [0,1] 相似度评分
	CreatedAt  time.Time `json:"created_at"`
}

// SearchResult 表示一次检索的结果与统计信息
type SearchResult struct {
	Chunks        []Chunk `json:"chunks"`
	Count         int     `json:"count"`
	AvgSimilarity float64 `json:"avg_similarity"`
}

// Index 定义语义检索索引的接口
type Index interface {
	// Search 在指定语料内检索与查询相关的内容块
	// 语料没有索引时返回 ErrUnavailable；有索引但无结果时返回空结果
	Search(ctx context.Context, corpusID, query string, limit int) (*SearchResult, error)

	// Store 将内容块写入指定语料的索引
	Store(ctx context.Context, corpusID, sectionID, content string) error

	// Close 释放底层资源
	Close() error
}

// 低于该相似度的块视为不相关
const similarityThreshold = 0.25

// SQLiteIndex 基于 SQLite 的本地检索索引
//
// 评分使用关键词覆盖率近似相似度；换用真实向量相似度只需替换
// scoreChunk，接口和降级语义不变。
type SQLiteIndex struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open 打开（必要时创建）索引文件
func Open(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, ErrUnavailable
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开索引文件失败: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		corpus_id TEXT NOT NULL,
		section_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_corpus ON chunks(corpus_id);`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化索引结构失败: %w", err)
	}

	return &SQLiteIndex{db: db}, nil
}

// Store 将内容块写入索引
func (idx *SQLiteIndex) Store(ctx context.Context, corpusID, sectionID, content string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	content = strings.TrimSpace(content)
	if corpusID == "" || content == "" {
		return errors.New("语料ID和内容不能为空")
	}

	_, err := idx.db.ExecContext(ctx,
		"INSERT INTO chunks (corpus_id, section_id, content) VALUES (?, ?, ?)",
		corpusID, sectionID, content)
	return err
}

// Search 在语料内检索相关内容块
func (idx *SQLiteIndex) Search(ctx context.Context, corpusID, query string, limit int) (*SearchResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if limit <= 0 {
		limit = 5
	}

	rows, err := idx.db.QueryContext(ctx,
		"SELECT id, corpus_id, section_id, content, created_at FROM chunks WHERE corpus_id = ?",
		corpusID)
	if err != nil {
		return nil, fmt.Errorf("检索查询失败: %w", err)
	}
	defer rows.Close()

	keywords := extractKeywords(query)

	var candidates []Chunk
	total := 0
	for rows.Next() {
		var chunk Chunk
		if err := rows.Scan(&chunk.ID, &chunk.CorpusID, &chunk.SectionID,
			&chunk.Content, &chunk.CreatedAt); err != nil {
			continue
		}
		total++

		chunk.Similarity = scoreChunk(chunk.Content, keywords)
		if chunk.Similarity >= similarityThreshold {
			candidates = append(candidates, chunk)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// 语料中没有任何内容块 == 该语料未建立索引
	if total == 0 {
		return nil, ErrUnavailable
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := &SearchResult{Chunks: candidates, Count: len(candidates)}
	if len(candidates) > 0 {
		sum := 0.0
		for _, c := range candidates {
			sum += c.Similarity
		}
		result.AvgSimilarity = sum / float64(len(candidates))
	}

	return result, nil
}

// Close 关闭索引
func (idx *SQLiteIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.db.Close()
}

// extractKeywords 从查询中提取小写关键词，忽略过短的词
func extractKeywords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	keywords := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?\"'()[]{}:;")
		if len(f) >= 3 {
			keywords = append(keywords, f)
		}
	}
	return keywords
}

// scoreChunk 用关键词覆盖率近似相似度
func scoreChunk(content string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}
