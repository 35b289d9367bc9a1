package repo

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/pegasus-backend/internal/domain"
)

func seedChats(t *testing.T, db *gorm.DB, chats ...domain.Chat) {
	t.Helper()
	for i := range chats {
		if err := db.Create(&chats[i]).Error; err != nil {
			t.Fatalf("seed %s: %v", chats[i].ID, err)
		}
	}
}

func chatIDs(chats []domain.Chat) []string {
	out := make([]string, 0, len(chats))
	for _, c := range chats {
		out = append(out, c.ID)
	}
	return out
}

func TestChatRepo_MissingTable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if c, err := CreateChat(ctx, db, "u1", "t"); err == nil || c != nil {
		t.Errorf("CreateChat = %v, %v", c, err)
	}
	if _, err := CountChats(ctx, db, "u1"); err == nil {
		t.Error("CountChats: expected error")
	}
	if _, err := ListChatsPage(ctx, db, "u1", 0, 10); err == nil {
		t.Error("ListChatsPage: expected error")
	}
}

func TestCreateChat(t *testing.T) {
	db := newTestDB(t, &domain.Chat{})
	before := time.Now().UTC().Add(-time.Second)

	c, err := CreateChat(context.Background(), db, "u1", "Consulta: CPF")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID == "" || c.UserID != "u1" || c.Title != "Consulta: CPF" {
		t.Fatalf("chat = %+v", c)
	}
	if c.CreatedAt.Before(before) || !c.UpdatedAt.Equal(c.CreatedAt) {
		t.Fatalf("timestamps = %v / %v", c.CreatedAt, c.UpdatedAt)
	}

	got, err := GetChat(context.Background(), db, c.ID, "u1")
	if err != nil || got.Title != c.Title {
		t.Fatalf("GetChat = %+v, %v", got, err)
	}
}

func TestListChats_ActivityOrderAndPaging(t *testing.T) {
	db := newTestDB(t, &domain.Chat{})
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	// "old" was created first but has the latest message.
	seedChats(t, db,
		domain.Chat{ID: "old", UserID: "u1", Title: "a", CreatedAt: day, UpdatedAt: day.Add(5 * time.Hour)},
		domain.Chat{ID: "mid", UserID: "u1", Title: "b", CreatedAt: day.Add(time.Hour), UpdatedAt: day.Add(time.Hour)},
		domain.Chat{ID: "new", UserID: "u1", Title: "c", CreatedAt: day.Add(2 * time.Hour), UpdatedAt: day.Add(2 * time.Hour)},
		domain.Chat{ID: "tie", UserID: "u1", Title: "d", CreatedAt: day.Add(2 * time.Hour), UpdatedAt: day.Add(2 * time.Hour)},
		domain.Chat{ID: "foreign", UserID: "u2", Title: "e", CreatedAt: day, UpdatedAt: day.Add(9 * time.Hour)},
	)

	all, err := ListChats(ctx, db, "u1")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"old", "tie", "new", "mid"}
	if got := chatIDs(all); !reflect.DeepEqual(got, want) {
		t.Fatalf("ListChats = %v, want %v", got, want)
	}

	page, err := ListChatsPage(ctx, db, "u1", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got := chatIDs(page); !reflect.DeepEqual(got, want[1:3]) {
		t.Fatalf("page = %v, want %v", got, want[1:3])
	}

	if n, err := CountChats(ctx, db, "u1"); err != nil || n != 4 {
		t.Fatalf("CountChats = %d, %v", n, err)
	}
	if empty, err := ListChats(ctx, db, "nobody"); err != nil || len(empty) != 0 {
		t.Fatalf("ListChats(nobody) = %v, %v", empty, err)
	}
}

func TestGetChat_ForeignChatLooksMissing(t *testing.T) {
	db := newTestDB(t, &domain.Chat{})
	ctx := context.Background()
	seedChats(t, db, domain.Chat{ID: "c1", UserID: "owner", Title: "x"})

	for _, tc := range []struct{ id, uid string }{{"c1", "intruder"}, {"nope", "owner"}} {
		if _, err := GetChat(ctx, db, tc.id, tc.uid); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetChat(%s, %s) err = %v, want ErrNotFound", tc.id, tc.uid, err)
		}
	}
}

func TestTouchChat(t *testing.T) {
	db := newTestDB(t, &domain.Chat{})
	ctx := context.Background()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedChats(t, db, domain.Chat{ID: "c1", UserID: "u1", Title: "t", CreatedAt: created, UpdatedAt: created})

	at := created.Add(48 * time.Hour).In(time.FixedZone("BRT", -3*3600))
	if err := TouchChat(ctx, db, "c1", at); err != nil {
		t.Fatal(err)
	}
	got, err := GetChat(ctx, db, "c1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.UpdatedAt.Equal(at) || !got.CreatedAt.Equal(created) {
		t.Fatalf("timestamps = %v / %v", got.CreatedAt, got.UpdatedAt)
	}

	if err := TouchChat(ctx, db, "missing", at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing chat err = %v", err)
	}
}
