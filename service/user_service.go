package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tieubaoca/docqa-be/database"
	"github.com/tieubaoca/docqa-be/types"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

type UserService interface {
	Login(ctx context.Context, username, password string) (*types.User, error)
	CreateUser(ctx context.Context, req types.CreateUserRequest) (*types.User, error)
	GetUser(ctx context.Context, id string) (*types.User, error)
}

type userService struct {
	userStore database.UserStore
}

func NewUserService(userStore database.UserStore) UserService {
	return &userService{userStore: userStore}
}

func (s *userService) Login(ctx context.Context, username, password string) (*types.User, error) {
	user, err := s.userStore.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *userService) CreateUser(ctx context.Context, req types.CreateUserRequest) (*types.User, error) {
	if req.Username == "" || req.Password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	role := req.Role
	if role == "" {
		role = types.USER_ROLE_USER
	}
	if role != types.USER_ROLE_USER && role != types.USER_ROLE_ADMIN {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if existing, err := s.userStore.GetUserByUsername(ctx, req.Username); err == nil && existing != nil {
		return nil, fmt.Errorf("username %s already taken", req.Username)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().Unix()
	user := &types.User{
		ID:       uuid.New().String(),
		Username: req.Username,
		Password: string(hash),
		FullName: req.FullName,
		Role:     role,
		CreateAt: now,
		UpdateAt: now,
	}
	if err := s.userStore.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *userService) GetUser(ctx context.Context, id string) (*types.User, error) {
	return s.userStore.GetUser(ctx, id)
}
