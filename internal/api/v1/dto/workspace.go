package dto

type WorkspaceCreateDTO struct {
	Name  string `json:"name" validate:"required,min=3,max=100"`
	Color string `json:"color" validate:"omitempty,hexcolor|hexadecimal"`
}

type WorkspaceRenameDTO struct {
	Name string `json:"name" validate:"required,min=3,max=100"`
}
