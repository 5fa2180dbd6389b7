package catalog

import "database/sql"

// Book は books テーブルの1行（書誌情報＋在庫カウンタ）
type Book struct {
	BookID            int64
	Title             string
	Author            string
	ISBN              sql.NullString
	Genre             sql.NullString
	Description       sql.NullString
	Quantity          int
	AvailableQuantity int
	PublishedYear     sql.NullInt64
	Publisher         sql.NullString
}

// 検索条件
type BookSearchQuery struct {
	Keyword string // title/author/isbn/genre/description を LIKE 検索
	Genre   *string
}

type Page struct {
	Limit  int
	Offset int
	Order  string
}
