package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/pelita-edu/pelita-go-api/internal/models"
)

// QuizRepository provides read-only access to quiz definitions. The attempt
// engine consumes this as an external collaborator and never writes through it.
type QuizRepository interface {
	GetByID(ctx context.Context, id uint) (models.Quiz, error)
	List(ctx context.Context) ([]models.Quiz, error)
}

type quizRepository struct {
	db *gorm.DB
}

// NewQuizRepository instantiates the repository.
func NewQuizRepository(db *gorm.DB) QuizRepository {
	return &quizRepository{db: db}
}

func (r *quizRepository) GetByID(ctx context.Context, id uint) (models.Quiz, error) {
	var quiz models.Quiz
	if err := r.db.WithContext(ctx).First(&quiz, id).Error; err != nil {
		return models.Quiz{}, err
	}

	return quiz, nil
}

func (r *quizRepository) List(ctx context.Context) ([]models.Quiz, error) {
	var quizzes []models.Quiz
	if err := r.db.WithContext(ctx).Order("due_date ASC").Find(&quizzes).Error; err != nil {
		return nil, err
	}

	return quizzes, nil
}
