package reading

import (
	"sort"

	"ivyreader/internal/models"
)

// SuggestNextBook determines which book should be read next.
//
// Rotation rules:
// 1. Books in progress rotate by title
// 2. After the last book read, the next one in progress is suggested
// 3. After the last book in the list, rotation returns to the first
// 4. If the last book is unknown or finished, start with the first in progress
// 5. With nothing in progress, suggest the first queued book
func SuggestNextBook(books []models.Book, lastBookID string) *models.Book {
	var inProgress, queued []models.Book
	for _, b := range books {
		switch b.Status {
		case models.StatusReading:
			inProgress = append(inProgress, b)
		case models.StatusQueue:
			queued = append(queued, b)
		}
	}

	byTitle := func(list []models.Book) {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Title != list[j].Title {
				return list[i].Title < list[j].Title
			}
			return list[i].ID < list[j].ID
		})
	}

	if len(inProgress) == 0 {
		if len(queued) == 0 {
			return nil
		}
		byTitle(queued)
		return &queued[0]
	}
	byTitle(inProgress)

	for i, b := range inProgress {
		if b.ID == lastBookID {
			next := inProgress[(i+1)%len(inProgress)]
			return &next
		}
	}

	return &inProgress[0]
}
