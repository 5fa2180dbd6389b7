package lending

import (
	"fmt"
	"time"
)

// InventoryDelta は1冊ぶんの在庫カウンタ変化。
// 貸出系の全操作はここで差分を決め、適用は ApplyBookDelta の1経路に集約する。
type InventoryDelta struct {
	BookID int64
	Delta  int
}

// Create: (なし) -> borrowed
func borrowDeltas(bookID int64) []InventoryDelta {
	return []InventoryDelta{{BookID: bookID, Delta: -1}}
}

// Return: borrowed -> returned
func returnDeltas(bookID int64) []InventoryDelta {
	return []InventoryDelta{{BookID: bookID, Delta: +1}}
}

// validateReturn: 返却できるのは borrowed の貸出だけ
func validateReturn(l *Loan) error {
	if l.Status != StatusBorrowed {
		return ErrInvalidTransition(fmt.Sprintf("loan %d is already %s", l.LoanID, l.Status))
	}
	return nil
}

// editDeltas は管理者編集の在庫差分。
// 「本が変わった」と「本は同じで状態だけ変わった」は排他の分岐として扱う。
func editDeltas(oldBookID int64, oldStatus LoanStatus, newBookID int64, newStatus LoanStatus) []InventoryDelta {
	var ds []InventoryDelta

	if newBookID != oldBookID {
		// 旧書籍: borrowed だった1冊を在庫へ戻す
		if oldStatus == StatusBorrowed {
			ds = append(ds, InventoryDelta{BookID: oldBookID, Delta: +1})
		}
		// 新書籍: borrowed になるなら1冊引き当てる
		if newStatus == StatusBorrowed {
			ds = append(ds, InventoryDelta{BookID: newBookID, Delta: -1})
		}
		return ds
	}

	if newStatus != oldStatus {
		switch {
		case newStatus == StatusBorrowed && oldStatus != StatusBorrowed:
			ds = append(ds, InventoryDelta{BookID: newBookID, Delta: -1})
		case newStatus != StatusBorrowed && oldStatus == StatusBorrowed:
			ds = append(ds, InventoryDelta{BookID: newBookID, Delta: +1})
		}
	}
	// 本も状態も同じなら在庫への影響なし
	return ds
}

// deleteDeltas: borrowed の貸出を消すときは先に在庫を戻す
func deleteDeltas(l *Loan) []InventoryDelta {
	if l.Status == StatusBorrowed {
		return []InventoryDelta{{BookID: l.BookID, Delta: +1}}
	}
	return nil
}

// daysLate は返却時点の遅延日数（経過秒の切り捨て、期限内なら0）。
// 返却通知の表示用で、遷移の成否には影響しない。
func daysLate(due, returned time.Time) int {
	if !returned.After(due) {
		return 0
	}
	return int(returned.Sub(due).Hours() / 24)
}
