package models

import "time"

// Comment is a single top-level comment fetched from a video.
type Comment struct {
	ID          string    `json:"id"`
	Author      string    `json:"author"`
	Text        string    `json:"text"`
	LikeCount   int       `json:"like_count"`
	PublishedAt time.Time `json:"published_at"`
}

// VideoMetadata describes the video a job targets.
type VideoMetadata struct {
	VideoID      string `json:"video_id"`
	Title        string `json:"title"`
	ChannelTitle string `json:"channel_title"`
	CommentCount int    `json:"comment_count"`
}
