package domain

import "time"

type Message struct {
	ID        int64
	Room      string
	AuthorID  int64
	Author    string
	Content   string
	CreatedAt time.Time
}

func NewMessage(id int64, room string, authorID int64, author, content string, createdAt time.Time) Message {
	return Message{
		ID:        id,
		Room:      room,
		AuthorID:  authorID,
		Author:    author,
		Content:   content,
		CreatedAt: createdAt,
	}
}
