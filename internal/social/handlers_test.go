package social

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pashagolub/pgxmock/v3"
)

func asUser(id string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", id)
		return c.Next()
	}
}

func TestSocialHandlers(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO posts`).
		WithArgs(pgxmock.AnyArg(), "user-1", pgxmock.AnyArg(), "hello").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(`INSERT INTO user_follows`).
		WithArgs("user-1", "user-2").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`FROM posts`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "activity_id", "content", "created_at"}).
			AddRow("post-1", "user-1", "", "hello", time.Now()))

	app := fiber.New()
	RegisterRoutes(app.Group("/social"), NewService(mock), asUser("user-1"))

	body, _ := json.Marshal(Post{Content: "hello", UserID: "someone-else"})
	req := httptest.NewRequest(http.MethodPost, "/social/posts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("create post status: %v", err)
	}
	var post Post
	if err := json.NewDecoder(resp.Body).Decode(&post); err != nil || post.UserID != "user-1" {
		t.Fatalf("post should belong to the token user: %+v %v", post, err)
	}

	req = httptest.NewRequest(http.MethodPost, "/social/follow", bytes.NewReader([]byte(`{"following_id":"user-2"}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("follow status: %v", err)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/social/feed", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("feed status: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSocialHandlersBadRequest(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/social"), NewService(nil), asUser("user-1"))

	for _, tc := range []struct{ path, body string }{
		{"/social/posts", `{}`},
		{"/social/posts", `{`},
		{"/social/follow", `{}`},
	} {
		req := httptest.NewRequest(http.MethodPost, tc.path, bytes.NewReader([]byte(tc.body)))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s %s: expected bad request, got %d", tc.path, tc.body, resp.StatusCode)
		}
	}
}

func TestSocialHandlersErrors(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM posts`).WillReturnError(errDB)

	app := fiber.New()
	RegisterRoutes(app.Group("/social"), NewService(mock), asUser("user-1"))

	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/social/feed", nil))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}
