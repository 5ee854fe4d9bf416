package social

import (
	"context"

	"github.com/google/uuid"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/db"
)

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// CreatePost stores a post; finished activities share through here.
func (s *Service) CreatePost(ctx context.Context, input Post) (Post, error) {
	input.ID = uuid.NewString()
	var activityID *string
	if input.ActivityID != "" {
		activityID = &input.ActivityID
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO posts (id, user_id, activity_id, content)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at
	`, input.ID, input.UserID, activityID, input.Content)
	if err := row.Scan(&input.CreatedAt); err != nil {
		return Post{}, err
	}
	return input, nil
}

func (s *Service) Follow(ctx context.Context, followerID, followingID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_follows (follower_id, following_id)
		VALUES ($1,$2)
		ON CONFLICT DO NOTHING
	`, followerID, followingID)
	return err
}

// Feed lists the user's posts and those of everyone they follow, newest first.
func (s *Service) Feed(ctx context.Context, userID string) ([]Post, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, COALESCE(activity_id::text, ''), content, created_at
		FROM posts
		WHERE user_id=$1
		   OR user_id IN (SELECT following_id FROM user_follows WHERE follower_id=$1)
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []Post{}
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.UserID, &p.ActivityID, &p.Content, &p.CreatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
