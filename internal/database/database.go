package database

import (
	"fmt"
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/clinsync/clinsync/internal/entities"
)

// defaultConcepts seed the concept dictionary so a fresh install can accept
// common observations out of the box. Site-specific dictionaries are loaded
// on top of these.
var defaultConcepts = []entities.Concept{
	{Code: "WEIGHT", Name: "Body weight", ValueType: entities.ValueTypeNumeric},
	{Code: "HEIGHT", Name: "Body height", ValueType: entities.ValueTypeNumeric},
	{Code: "BMI", Name: "Body mass index", ValueType: entities.ValueTypeNumeric},
	{Code: "TEMP", Name: "Body temperature", ValueType: entities.ValueTypeNumeric},
	{Code: "HR", Name: "Heart rate", ValueType: entities.ValueTypeNumeric},
	{Code: "BP_SYS", Name: "Systolic blood pressure", ValueType: entities.ValueTypeNumeric},
	{Code: "BP_DIA", Name: "Diastolic blood pressure", ValueType: entities.ValueTypeNumeric},
	{Code: "GLU", Name: "Glucose", ValueType: entities.ValueTypeNumeric},
	{Code: "SMOKING", Name: "Smoking status", ValueType: entities.ValueTypeText},
	{Code: "DIAGNOSIS", Name: "Diagnosis", ValueType: entities.ValueTypeText},
	{Code: "QUESTIONNAIRE", Name: "Questionnaire response", ValueType: entities.ValueTypeQuestionnaire},
}

type Database struct {
	DB *gorm.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto-migrate all entities
	err = db.AutoMigrate(
		&entities.Patient{},
		&entities.Visit{},
		&entities.Observation{},
		&entities.Concept{},
		&entities.ImportSession{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	database := &Database{DB: db}

	if err := database.seedConcepts(); err != nil {
		return nil, fmt.Errorf("failed to seed concepts: %w", err)
	}

	log.Printf("Database initialized successfully at %s", dbPath)

	return database, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *Database) seedConcepts() error {
	for _, concept := range defaultConcepts {
		var existing entities.Concept
		result := d.DB.Where("code = ?", concept.Code).First(&existing)
		if result.Error == gorm.ErrRecordNotFound {
			if err := d.DB.Create(&concept).Error; err != nil {
				return fmt.Errorf("failed to create concept %s: %w", concept.Code, err)
			}
		}
	}
	return nil
}
