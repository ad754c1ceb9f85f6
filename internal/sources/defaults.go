package sources

import "github.com/allfoodsicily/draftdesk/internal/models"

// Defaults lists the Sicilian food sites monitored when no sources file is set.
func Defaults() []models.Source {
	return []models.Source{
		// General newspapers, food sections.
		{Name: "Giornale di Sicilia", Category: models.SourceCategoryGeneral, URL: "https://gds.it/food", Kind: models.SourceKindPage},
		{Name: "LiveSicilia", Category: models.SourceCategoryGeneral, URL: "https://livesicilia.it/food-beverage", Kind: models.SourceKindPage},
		{Name: "Balarm", Category: models.SourceCategoryGeneral, URL: "https://balarm.it/food", Kind: models.SourceKindPage},
		{Name: "BlogSicilia", Category: models.SourceCategoryGeneral, URL: "https://blogsicilia.it/feed/", Kind: models.SourceKindFeed},

		// Specialized food and gastronomy outlets.
		{Name: "Cronache di Gusto", Category: models.SourceCategorySpecialized, URL: "https://cronachedigusto.it/feed/", Kind: models.SourceKindFeed},
		{Name: "Sicilia da Gustare", Category: models.SourceCategorySpecialized, URL: "https://siciliadagustare.com", Kind: models.SourceKindPage},
		{Name: "Culture & Terroir", Category: models.SourceCategorySpecialized, URL: "https://cultureandterroir.com/food", Kind: models.SourceKindPage},
		{Name: "Sapori e Saperi di Sicilia", Category: models.SourceCategorySpecialized, URL: "https://saporiesaperidisicilia.it/notizie", Kind: models.SourceKindPage},
	}
}
