package database

import "time"

type Chat struct {
	Id        int
	Title     string
	CreatedAt time.Time
}

type Message struct {
	Id        int
	ChatId    int
	Role      string
	Content   string
	CreatedAt time.Time
}

type CreateMessageParams struct {
	ChatId  int
	Role    string
	Content string
}
