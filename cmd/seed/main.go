// Command seed fills a development database with fake users, chats,
// messages and a poll. Every account gets the password "password123".
package main

import (
	"campusconnect/backend/internal/chat"
	"campusconnect/backend/internal/config"
	"campusconnect/backend/internal/database"
	"campusconnect/backend/internal/logging"
	"campusconnect/backend/internal/models"
	"campusconnect/backend/internal/poll"
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	users := flag.Int("users", 12, "number of users to create")
	messages := flag.Int("messages", 20, "messages per chat")
	seed := flag.Int64("seed", 0, "faker seed, 0 for random")
	flag.Parse()

	config.LoadConfig()
	logger := logging.New(config.AppConfig.LogLevel, config.AppConfig.AppEnv)
	if *users < 3 {
		logger.Fatal("need at least 3 users")
	}

	db, err := database.Connect(config.AppConfig, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	faker := gofakeit.New(*seed)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		logger.Fatal("Failed to hash password", "err", err)
	}

	ids := make([]uint, 0, *users)
	for i := 0; i < *users; i++ {
		name := faker.Name()
		u := models.User{
			DisplayName:  name,
			Email:        fmt.Sprintf("%s.%d@campus.edu", strings.ToLower(faker.Username()), i),
			PasswordHash: string(hash),
			AvatarURL:    faker.URL(),
		}
		if err := db.Create(&u).Error; err != nil {
			logger.Fatal("Failed to create user", "name", name, "err", err)
		}
		ids = append(ids, u.ID)
	}
	logger.Info("Users created", "count", len(ids))

	chats := chat.New(db, chat.WithLogger(logger))
	polls := poll.New(db, chats, poll.WithLogger(logger))

	var chatIDs []uint
	for i := 1; i < len(ids); i++ {
		c, err := chats.CreateDirectChat(ctx, ids[0], ids[i])
		if err != nil {
			logger.Fatal("Failed to create direct chat", "err", err)
		}
		chatIDs = append(chatIDs, c.ID)
	}

	group, err := chats.CreateGroupChat(ctx, ids[0], chat.NewGroup{
		Name:        truncate(faker.HipsterSentence(3), chat.MaxGroupNameLength),
		Description: truncate(faker.Sentence(12), chat.MaxDescriptionLength),
		MemberIDs:   ids[1 : len(ids)/2+1],
	})
	if err != nil {
		logger.Fatal("Failed to create group", "err", err)
	}
	chatIDs = append(chatIDs, group.ID)

	for _, chatID := range chatIDs {
		c, err := chats.GetChat(ctx, ids[0], chatID)
		if err != nil {
			logger.Fatal("Failed to load chat", "chat_id", chatID, "err", err)
		}
		members := c.Members()
		for i := 0; i < *messages; i++ {
			sender := members[faker.Number(0, len(members)-1)]
			content := truncate(faker.Sentence(faker.Number(3, 20)), chat.MaxContentLength)
			if _, err := chats.SendMessage(ctx, sender, chatID, chat.SendInput{Content: content}); err != nil {
				logger.Fatal("Failed to send message", "chat_id", chatID, "err", err)
			}
		}
	}

	p, err := polls.CreatePoll(ctx, ids[0], poll.NewPoll{
		Question: "When should we meet this week?",
		Options:  []string{"Monday", "Wednesday", "Friday"},
		ChatID:   &group.ID,
	})
	if err != nil {
		logger.Fatal("Failed to create poll", "err", err)
	}
	for _, member := range group.Members() {
		opt := p.Options[faker.Number(0, len(p.Options)-1)]
		if _, err := polls.Vote(ctx, member, p.ID, opt.ID); err != nil {
			logger.Fatal("Failed to vote", "err", err)
		}
	}
	if _, err := chats.SendMessage(ctx, ids[0], group.ID, chat.SendInput{Content: "Please vote!", PollID: &p.ID}); err != nil {
		logger.Fatal("Failed to attach poll", "err", err)
	}

	logger.Info("Seed complete", "chats", len(chatIDs), "messages", len(chatIDs)*(*messages)+1)
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
