// Command generate_demo creates a demo database with sample clinical data in
// every supported source format, run through the real import pipeline.
// Usage: go run cmd/generate_demo/main.go [-db path/to/demo.db]
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/internal/database"
	"github.com/clinsync/clinsync/internal/importers"
	"github.com/clinsync/clinsync/internal/services"
)

const defaultDemoDatabasePath = "./demo/demo.db"

func main() {
	dbPath := flag.String("db", defaultDemoDatabasePath, "path to the demo database file")
	flag.Parse()

	log.Printf("Generating demo database at %s...", *dbPath)

	// Delete existing demo database to start fresh
	if err := os.Remove(*dbPath); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to remove existing demo database: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
		log.Fatalf("Failed to create demo directory: %v", err)
	}

	db, err := database.NewDatabase(*dbPath)
	if err != nil {
		log.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	persister := services.NewPersistService(
		database.NewPatientRepository(db),
		database.NewVisitRepository(db),
		database.NewObservationRepository(db),
		database.NewConceptRepository(db),
		logger,
	)
	pipeline := importers.NewPipeline(persister, 0, logger)
	service := services.NewImportService(pipeline, database.NewSessionRepository(db))

	for _, sample := range demoSamples() {
		outcome, session, err := service.Run([]byte(sample.content), sample.filename, "demo", importers.PersistOptions{
			DuplicateStrategy: "update",
		})
		if err != nil {
			log.Printf("Failed to import %s: %v", sample.filename, err)
			continue
		}
		log.Printf("Imported %s (%s, session %s): %d patients, %d visits, %d observations",
			sample.filename, outcome.Format, session.ExternalID,
			outcome.Result.PatientsCreated, outcome.Result.VisitsCreated,
			outcome.Result.ObservationsCreated)
	}

	log.Println("Demo database generated successfully!")
}

type demoSample struct {
	filename string
	content  string
}

func demoSamples() []demoSample {
	return []demoSample{
		{
			filename: "vitals.csv",
			content: "Patient,Sex,Start Date,Location,WEIGHT,HR,BP_SYS,BP_DIA\n" +
				"PATIENT_CD,SEX_CD,START_DATE,LOCATION_CD,WEIGHT,HR,BP_SYS,BP_DIA\n" +
				"DEMO-001,F,2024-01-15,CARD,62.5,72,118,76\n" +
				"DEMO-002,M,2024-01-16,CARD,85.1,64,131,84\n" +
				"DEMO-003,F,2024-02-02,GI,57.0,80,109,70\n",
		},
		{
			filename: "labs.csv",
			content: "PATIENT_CD;SEX_CD;START_DATE;GLU;DIAGNOSIS;SMOKING\n" +
				";;;N;T;T\n" +
				";;;mg/dL;;\n" +
				"Patient;Sex;Start;Glucose;Diagnosis;Smoking status\n" +
				"DEMO-001;F;2024-03-01;96.4;Hypertension;never\n" +
				"DEMO-004;M;2024-03-05;182.0;Type 2 diabetes;former\n",
		},
		{
			filename: "registry-export.json",
			content: `{
	"metadata": {"exportDate": "2024-04-01"},
	"data": {
		"patients": [
			{"patient_id": 1, "patient_cd": "DEMO-005", "sex_cd": "F", "age_in_years": 61}
		],
		"visits": [
			{"visit_id": 1, "patient_id": 1, "start_date": "2024-03-20", "location_cd": "ONC"}
		],
		"observations": [
			{"patient_id": 1, "visit_id": 1, "concept_cd": "WEIGHT", "value_type": "numeric", "nval_num": 70.2, "units_cd": "kg"},
			{"patient_id": 1, "visit_id": 1, "concept_cd": "DIAGNOSIS", "value_type": "text", "tval_char": "Breast carcinoma, in remission"}
		]
	}
}`,
		},
		{
			filename: "encounter.json",
			content: `{
	"resourceType": "ClinicalDocument",
	"title": "Encounter Summary",
	"date": "2024-05-12",
	"subject": {"reference": "Patient/DEMO-002"},
	"section": [
		{
			"title": "Patient Information",
			"entry": [
				{"title": "Patient ID", "value": "DEMO-002"},
				{"title": "Sex", "value": "M"}
			]
		},
		{
			"title": "Visit 1",
			"entry": [
				{"title": "Start Date", "value": "2024-05-12"},
				{"title": "Location", "value": "CARD"},
				{"title": "Body Weight", "value": 84.3, "code": "WEIGHT", "system": "local", "unit": "kg"},
				{"title": "Heart Rate", "value": "68", "code": "HR", "system": "local"}
			]
		}
	]
}`,
		},
		{
			filename: "intake-survey.html",
			content: `<!DOCTYPE html>
<html>
<head><title>Intake Survey</title></head>
<body>
<form id="intake"></form>
<script>
var formData = {
	"resourceType": "Survey",
	"title": "Intake Survey",
	"date": "2024-06-01",
	"section": [
		{
			"title": "Patient Information",
			"entry": [
				{"title": "Patient ID", "value": "DEMO-003"},
				{"title": "Sex", "value": "F"}
			]
		},
		{
			"title": "Questions",
			"entry": [
				{"title": "Current weight", "value": 56.4, "code": "WEIGHT", "system": "local", "unit": "kg"},
				{"title": "Smoking status", "value": "never", "code": "SMOKING", "system": "local"},
				{"title": "Any recent complaints?", "value": "occasional headaches"}
			]
		}
	]
};
submit(formData);
</script>
</body>
</html>`,
		},
	}
}
