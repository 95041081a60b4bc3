package stage

// Stage is one named phase of an upstream pipeline.
type Stage struct {
	ID          string
	DisplayName string
}

// Descriptor is the static, ordered stage list for one request mode.
// Trackers are parameterized by descriptor because pipelines differ in
// length between modes.
type Descriptor struct {
	Name   string
	Stages []Stage
}

// StartingStageID is the synthetic pre-stage reported before the first
// real update arrives; it always resolves to index 0.
const StartingStageID = "starting"

func (d Descriptor) Len() int {
	return len(d.Stages)
}

func (d Descriptor) indexOf(id string) int {
	for i, s := range d.Stages {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Consilium is the five-stage multi-model deliberation pipeline.
func Consilium() Descriptor {
	return Descriptor{
		Name: "consilium",
		Stages: []Stage{
			{ID: "stage_1", DisplayName: "Сбор мнений экспертов"},
			{ID: "stage_2", DisplayName: "Анализ и оценка экспертов"},
			{ID: "stage_3", DisplayName: "Верификация судебной практики"},
			{ID: "stage_4", DisplayName: "Перекрёстная проверка"},
			{ID: "stage_5", DisplayName: "Формирование итогового ответа"},
		},
	}
}

// CourtPractice is the three-stage case-law search pipeline.
func CourtPractice() Descriptor {
	return Descriptor{
		Name: "court_practice",
		Stages: []Stage{
			{ID: "search", DisplayName: "Поиск судебной практики"},
			{ID: "extract", DisplayName: "Извлечение номеров дел"},
			{ID: "verify", DisplayName: "Верификация дел"},
		},
	}
}

// SearchAugmented is the seven-stage single query pipeline with
// background verification enabled.
func SearchAugmented() Descriptor {
	return Descriptor{
		Name: "search_augmented",
		Stages: []Stage{
			{ID: "classify", DisplayName: "Классификация запроса"},
			{ID: "search", DisplayName: "Поиск источников"},
			{ID: "select", DisplayName: "Отбор релевантных источников"},
			{ID: "extract", DisplayName: "Извлечение ссылок"},
			{ID: "verify", DisplayName: "Верификация судебной практики"},
			{ID: "npa", DisplayName: "Проверка нормативных актов"},
			{ID: "synthesis", DisplayName: "Формирование ответа"},
		},
	}
}
