package catalog

// ===== Requests =====

type CreateBookRequest struct {
	Title         string  `json:"title" binding:"required"`
	Author        string  `json:"author" binding:"required"`
	ISBN          *string `json:"isbn,omitempty"`
	Genre         *string `json:"genre,omitempty"`
	Description   *string `json:"description,omitempty"`
	Quantity      int     `json:"quantity"` // 省略時 1
	PublishedYear *int    `json:"published_year,omitempty"`
	Publisher     *string `json:"publisher,omitempty"`
}

type UpdateBookRequest struct {
	Title         *string `json:"title,omitempty"`
	Author        *string `json:"author,omitempty"`
	ISBN          *string `json:"isbn,omitempty"`
	Genre         *string `json:"genre,omitempty"`
	Description   *string `json:"description,omitempty"`
	Quantity      *int    `json:"quantity,omitempty"`
	PublishedYear *int    `json:"published_year,omitempty"`
	Publisher     *string `json:"publisher,omitempty"`
}

// ===== Responses =====

type BookResponse struct {
	BookID            int64   `json:"book_id"`
	Title             string  `json:"title"`
	Author            string  `json:"author"`
	ISBN              *string `json:"isbn,omitempty"`
	Genre             *string `json:"genre,omitempty"`
	Description       *string `json:"description,omitempty"`
	Quantity          int     `json:"quantity"`
	AvailableQuantity int     `json:"available_quantity"`
	PublishedYear     *int    `json:"published_year,omitempty"`
	Publisher         *string `json:"publisher,omitempty"`
}

type BookListResponse struct {
	Items []BookResponse `json:"items"`
	Total int64          `json:"total"`
}

func buildBookResponse(b *Book) BookResponse {
	resp := BookResponse{
		BookID:            b.BookID,
		Title:             b.Title,
		Author:            b.Author,
		Quantity:          b.Quantity,
		AvailableQuantity: b.AvailableQuantity,
	}
	if b.ISBN.Valid {
		v := b.ISBN.String
		resp.ISBN = &v
	}
	if b.Genre.Valid {
		v := b.Genre.String
		resp.Genre = &v
	}
	if b.Description.Valid {
		v := b.Description.String
		resp.Description = &v
	}
	if b.PublishedYear.Valid {
		v := int(b.PublishedYear.Int64)
		resp.PublishedYear = &v
	}
	if b.Publisher.Valid {
		v := b.Publisher.String
		resp.Publisher = &v
	}
	return resp
}
